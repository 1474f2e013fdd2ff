package main

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var stageLabelCaser = cases.Title(language.English)

func formatStageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "Unknown"
	}
	return stageLabelCaser.String(stage)
}

func formatProgress(percent float64) string {
	return fmt.Sprintf("%.0f%%", percent)
}

// parseAttributeFlags turns repeated "key=value" flags into an attribute map.
// Numeric values are passed through as numbers so schema validation sees the
// expected types.
func parseAttributeFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q (expected key=value)", pair)
		}
		value = strings.TrimSpace(value)
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			attrs[key] = number
			continue
		}
		attrs[key] = value
	}
	return attrs, nil
}
