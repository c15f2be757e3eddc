package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"orionserver/internal/config"
	"orionserver/internal/repository/sqlite"
)

func main() {
	dbPath := pflag.String("db", "", "archive database path (defaults to DB_PATH)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment")
	pruneDays := pflag.Int("prune-days", 0, "delete frames older than this many days before printing stats")
	pflag.Parse()

	if *dbPath == "" {
		cfg, err := config.Load(*envFile, "")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		*dbPath = cfg.DatabasePath
	}
	if *dbPath == "" {
		log.Fatalf("No archive database: pass --db or set DB_PATH")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Archive not found: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	frames := sqlite.NewFrameRepository(db)

	if *pruneDays > 0 {
		removed, err := frames.DeleteOlderThan(time.Now().AddDate(0, 0, -*pruneDays))
		if err != nil {
			log.Fatalf("Failed to prune archive: %v", err)
		}
		fmt.Printf("🧹 Removed %d frames older than %d days\n", removed, *pruneDays)
	}

	stats, err := frames.GetStats()
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}

	fmt.Printf("\n📊 Archive Statistics (%s):\n", *dbPath)
	fmt.Printf("   Total frames: %d\n", stats.TotalFrames)
	fmt.Printf("   Failed frames: %d\n", stats.Errors)
	fmt.Printf("   Per device:\n")
	for _, device := range sortedKeys(stats.PerDevice) {
		fmt.Printf("      - %s: %d frames\n", device, stats.PerDevice[device])
	}
	fmt.Printf("   Top objects:\n")
	for _, label := range sortedKeys(stats.ObjectCounts) {
		fmt.Printf("      - %s: %d\n", label, stats.ObjectCounts[label])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
