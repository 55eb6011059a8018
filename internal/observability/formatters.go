// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/storybook-agent/internal/consistency"
	"github.com/jonathan/storybook-agent/internal/types"
	"github.com/jonathan/storybook-agent/internal/usage"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintOutline outputs a human-readable summary of the generated outline.
func (p *Printer) PrintOutline(outline *types.Outline) {
	if outline == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:  %s\n", outline.Title))
	if outline.Moral != "" {
		sb.WriteString(fmt.Sprintf("Moral:  %s\n", outline.Moral))
	}
	sb.WriteString("\n")

	count := min(len(outline.Chapters), maxItemsToShow)
	for i := 0; i < count; i++ {
		ch := outline.Chapters[i]
		sb.WriteString(fmt.Sprintf("  %d. %s\n", ch.Number, ch.Title))
	}
	if len(outline.Chapters) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(outline.Chapters)-maxItemsToShow))
	}
	if outline.NeedsReview {
		sb.WriteString("\n⚠ needs review: raw text saved\n")
	}

	p.printBox("BOOK OUTLINE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintChapters outputs a summary of written chapters with word counts.
func (p *Printer) PrintChapters(set *types.ChapterSet) {
	if set == nil || len(set.Chapters) == 0 {
		return
	}

	var sb strings.Builder
	for _, ch := range set.Chapters {
		words := len(strings.Fields(ch.Text))
		sb.WriteString(fmt.Sprintf("  %d. %-30s %4d words\n", ch.Number, truncateTo(ch.Title, 30), words))
	}
	if set.NeedsReview {
		sb.WriteString("\n⚠ needs review: raw text saved\n")
	}

	p.printBox("CHAPTERS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintIllustrations outputs the illustration set with reference chains.
func (p *Printer) PrintIllustrations(set *types.IllustrationSet) {
	if set == nil || len(set.Illustrations) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Seed: %d\n\n", set.Seed))
	for _, il := range set.Illustrations {
		sb.WriteString(fmt.Sprintf("  Chapter %d: %d variant(s)", il.Chapter, len(il.Variants)))
		if len(il.References) > 0 {
			sb.WriteString(fmt.Sprintf(", %d reference(s)", len(il.References)))
		}
		sb.WriteString("\n")
	}

	p.printBox("ILLUSTRATIONS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintConsistencyReport outputs the consistency validation report.
func (p *Printer) PrintConsistencyReport(report *consistency.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Illustrations:     %d\n", report.TotalIllustrations))
	sb.WriteString(fmt.Sprintf("With chained ref:  %d\n", report.WithConsistencyRef))
	sb.WriteString(fmt.Sprintf("Avg variants:      %.1f\n", report.AverageVariantCount))
	sb.WriteString(fmt.Sprintf("Global seed:       %d\n", report.GlobalSeed))

	if len(report.Issues) > 0 {
		sb.WriteString("\n")
		count := min(len(report.Issues), maxItemsToShow)
		for i := 0; i < count; i++ {
			issue := report.Issues[i]
			sb.WriteString(fmt.Sprintf("  [%s] %s\n", issue.Severity, issue.Message))
		}
		if len(report.Issues) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.Issues)-maxItemsToShow))
		}
	}

	p.printBox("CONSISTENCY REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintUsage outputs per-stage provider usage totals.
func (p *Printer) PrintUsage(stats *usage.Stats) {
	if stats == nil {
		return
	}
	snapshot := stats.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	var sb strings.Builder
	for _, key := range stats.Keys() {
		rec := snapshot[key]
		sb.WriteString(fmt.Sprintf("  %-13s %-10s %2d calls", key.Stage, key.Provider, rec.Calls))
		if rec.Failures > 0 {
			sb.WriteString(fmt.Sprintf(" (%d failed)", rec.Failures))
		}
		sb.WriteString("\n")
	}
	totals := stats.Totals()
	sb.WriteString(fmt.Sprintf("\nTokens: %d in / %d out\n", totals.InputTokens, totals.OutputTokens))

	p.printBox("PROVIDER USAGE", strings.TrimSuffix(sb.String(), "\n"))
}

func truncateTo(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
