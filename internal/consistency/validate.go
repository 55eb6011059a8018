package consistency

import (
	"fmt"

	"github.com/jonathan/storybook-agent/internal/types"
)

// Severity classifies a consistency issue.
type Severity string

// Issue severities. Fatal issues block export; warnings degrade quality.
const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Issue is one structured finding about an illustration set.
type Issue struct {
	Severity Severity `json:"severity"`
	Chapter  int      `json:"chapter,omitempty"`
	Message  string   `json:"message"`
}

// Report summarizes the consistency of a completed illustration set.
type Report struct {
	TotalIllustrations  int     `json:"total_illustrations"`
	WithConsistencyRef  int     `json:"with_consistency_ref"`
	AverageVariantCount float64 `json:"average_variant_count"`
	GlobalSeed          int64   `json:"global_seed"`
	Issues              []Issue `json:"issues"`
}

// Fatal reports whether the set has any fatal issue.
func (r *Report) Fatal() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// Warnings returns only the non-fatal issues.
func (r *Report) Warnings() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			out = append(out, issue)
		}
	}
	return out
}

// ValidateSet inspects a completed illustration set. A missing chapter 1
// illustration is fatal; missing references on later chapters and multiple
// distinct seeds are warnings.
func ValidateSet(set *types.IllustrationSet) *Report {
	report := &Report{}
	if set == nil || len(set.Illustrations) == 0 {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityFatal,
			Message:  "illustration set is empty",
		})
		return report
	}

	report.TotalIllustrations = len(set.Illustrations)

	chapterOne := set.ByChapter(1)
	if chapterOne == nil || chapterOne.SelectedImageURL() == "" {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityFatal,
			Chapter:  1,
			Message:  "chapter 1 illustration missing or has no image",
		})
	}
	anchorURL := chapterOne.SelectedImageURL()

	// Detected global seed: first illustration's first variant.
	seeds := make(map[int64]bool)
	totalVariants := 0
	for _, il := range set.Illustrations {
		totalVariants += len(il.Variants)
		for _, v := range il.Variants {
			seeds[v.Seed] = true
		}
		if report.GlobalSeed == 0 && len(il.Variants) > 0 {
			report.GlobalSeed = il.Variants[0].Seed
		}

		if il.Chapter > 1 {
			if len(il.References) == 0 {
				report.Issues = append(report.Issues, Issue{
					Severity: SeverityWarning,
					Chapter:  il.Chapter,
					Message:  fmt.Sprintf("chapter %d has no references", il.Chapter),
				})
			} else if anchorURL != "" && il.References[0] == anchorURL {
				report.WithConsistencyRef++
			}
		}
		if len(il.Variants) == 0 {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityWarning,
				Chapter:  il.Chapter,
				Message:  fmt.Sprintf("chapter %d has no generated variants", il.Chapter),
			})
		}
	}

	report.AverageVariantCount = float64(totalVariants) / float64(len(set.Illustrations))

	if len(seeds) > 1 {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("multiple seeds detected (%d distinct); visual consistency may suffer", len(seeds)),
		})
	}

	return report
}
