package model

import "strings"

var categories = map[string]string{
	"person": "human",
	"car":    "vehicle",
	"truck":  "vehicle",
	"bus":    "vehicle",
	"chair":  "furniture",
	"table":  "furniture",
	"dog":    "animal",
	"cat":    "animal",
}

// Category maps a detection label to a coarse category, "object" when unknown.
func Category(label string) string {
	if c, ok := categories[strings.ToLower(label)]; ok {
		return c
	}
	return "object"
}
