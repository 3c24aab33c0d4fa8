package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// Output colors. fatih/color disables itself when stdout is not a terminal
// or NO_COLOR is set.
var (
	colorOK   = color.New(color.FgGreen)
	colorWarn = color.New(color.FgYellow)
	colorErr  = color.New(color.FgRed, color.Bold)
)

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	if n <= 3 {
		return string(r[:n])
	}

	return string(r[:n-3]) + "..."
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// confirmer returns a prompt that asks on stderr and reads y/N from in. With
// assumeYes every prompt is accepted without asking. End of input declines.
func (cc *CLIContext) confirmer(assumeYes bool) func(string) bool {
	if assumeYes {
		return func(string) bool { return true }
	}

	reader := bufio.NewReader(cc.In)

	return func(prompt string) bool {
		fmt.Fprintf(cc.Err, "%s [y/N] ", prompt)

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(cc.Err)
			return false
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	colorErr.Fprint(os.Stderr, "Error:")
	fmt.Fprintf(os.Stderr, " %v\n", err)
	os.Exit(1)
}
