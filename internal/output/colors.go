// Package output renders run results on the console.
package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for summary elements.
type ColorScheme struct {
	Title      *color.Color
	Rule       *color.Color
	Pass       *color.Color
	Fail       *color.Color
	Warn       *color.Color
	MetricName *color.Color
	Value      *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:      color.New(color.Bold),
		Rule:       color.New(color.FgCyan),
		Pass:       color.New(color.FgGreen, color.Bold),
		Fail:       color.New(color.FgRed, color.Bold),
		Warn:       color.New(color.FgYellow, color.Bold),
		MetricName: color.New(color.FgBlue),
		Value:      color.New(color.FgCyan),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	scheme.Title.DisableColor()
	scheme.Rule.DisableColor()
	scheme.Pass.DisableColor()
	scheme.Fail.DisableColor()
	scheme.Warn.DisableColor()
	scheme.MetricName.DisableColor()
	scheme.Value.DisableColor()
	return scheme
}

// SuccessIcon returns a checkmark, colored when enabled.
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns a cross, colored when enabled.
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
