package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"orionserver/internal/logger"
)

// LogFiles are the files written by the leveled logger.
var LogFiles = map[string]string{
	"info":    logger.InfoFile,
	"warning": logger.WarningFile,
	"error":   logger.ErrorFile,
}

// ShowLogsHandler serves one log file as text/plain.
func ShowLogsHandler(logDir, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, logDir, filename)
	}
}

// serveLogFile is a helper that sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}

// ClearLogsHandler truncates one log file via the logger utility.
func ClearLogsHandler(logger *logger.Logger, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := logger.CleanLogs(filename); err != nil {
			logger.Error("Error clearing %s: %v", filename, err)
			http.Error(w, "Unable to clear log", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
