package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/storybook-agent/internal/consistency"
	"github.com/jonathan/storybook-agent/internal/types"
	"github.com/jonathan/storybook-agent/internal/usage"
)

func TestPrintOutline(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutline(&types.Outline{
		Title: "The Lantern in the Orchard",
		Moral: "kindness returns",
		Chapters: []types.OutlineChapter{
			{Number: 1, Title: "A New Friend"},
			{Number: 2, Title: "The Long Walk"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "BOOK OUTLINE")
	assert.Contains(t, out, "The Lantern in the Orchard")
	assert.Contains(t, out, "1. A New Friend")
}

func TestPrintOutlineNilIsSilent(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintOutline(nil)
	assert.Empty(t, buf.String())
}

func TestPrintOutlineTruncatesLongLists(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	chapters := make([]types.OutlineChapter, 8)
	for i := range chapters {
		chapters[i] = types.OutlineChapter{Number: i + 1, Title: "Chapter"}
	}
	p.PrintOutline(&types.Outline{Title: "T", Chapters: chapters})

	assert.Contains(t, buf.String(), "... and 3 more")
}

func TestPrintChaptersCountsWords(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintChapters(&types.ChapterSet{Chapters: []types.Chapter{
		{Number: 1, Title: "A New Friend", Text: "one two three"},
	}})

	assert.Contains(t, buf.String(), "3 words")
}

func TestPrintConsistencyReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintConsistencyReport(&consistency.Report{
		TotalIllustrations: 3,
		WithConsistencyRef: 2,
		GlobalSeed:         1234,
		Issues: []consistency.Issue{
			{Severity: consistency.SeverityWarning, Message: "chapter 2 has no references"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "CONSISTENCY REPORT")
	assert.Contains(t, out, "[warning]")
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	stats := usage.NewStats()
	stats.RecordCall(types.StageOutline, "gemini", 100, 200)
	stats.RecordFailure(types.StageOutline, "gemini")
	p.PrintUsage(stats)

	out := buf.String()
	assert.Contains(t, out, "PROVIDER USAGE")
	assert.Contains(t, out, "outline")
	assert.Contains(t, out, "(1 failed)")
}

func TestBoxLinesStayWithinWidth(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutline(&types.Outline{Title: strings.Repeat("very long title ", 20)})
	for _, line := range strings.Split(buf.String(), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
}
