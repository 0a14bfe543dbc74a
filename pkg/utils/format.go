package utils

import (
	"fmt"
	"strings"
)

// FormatPrice formats a nullable price for display. A nil price renders as
// "N/A" (lookup failed or no quote available).
func FormatPrice(price *float64) string {
	if price == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *price)
}

// FormatLevel formats a nullable price level, rendering "-" when unset.
func FormatLevel(level *float64) string {
	if level == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *level)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// ProgressBar renders a simple text progress bar of the given width for a
// value clamped to [0, 100].
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
