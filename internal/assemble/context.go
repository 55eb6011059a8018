// Package assemble turns stored project state into stage prompts: it trims
// the project into a small context object and renders the literal text sent
// to the providers.
package assemble

import (
	"unicode/utf8"

	"github.com/jonathan/storybook-agent/internal/types"
)

// Trim limits applied by the context builder. They keep prompts inside the
// stage token budgets regardless of how large the stored project state is.
const (
	MaxVisualChars      = 200
	MaxRulesPerCategory = 5
)

// CharacterContext is a character reduced to what prompts need.
type CharacterContext struct {
	Name          string
	Role          string
	Traits        []string
	SpeakingStyle string
	Visual        string
	ModestyRules  string
	PoseSheetURL  string
	StyleHints    string
}

// Context is the trimmed, stage-independent view of a project fed into the
// prompt templates.
type Context struct {
	Title             string
	AgeRange          string
	Setting           string
	LearningObjective string
	Characters        []CharacterContext
	FaithRules        []string
	VocabularyRules   []string
	IllustrationRules []string
}

// BuildContext trims a project, its characters, and an optional knowledge
// base summary into a prompt context. Only characters whose ID is in the
// project's selected set are included; visual descriptions are truncated to
// MaxVisualChars and rules capped at MaxRulesPerCategory per category.
// The function is pure: identical input yields identical output.
func BuildContext(project *types.Project, characters []types.Character, kb *types.KnowledgeBaseSummary) Context {
	ctx := Context{
		Title:             project.Title,
		AgeRange:          project.AgeRange,
		Setting:           project.Setting,
		LearningObjective: project.LearningObjective,
	}

	selected := make(map[string]bool, len(project.CharacterIDs))
	for _, id := range project.CharacterIDs {
		selected[id] = true
	}

	for _, ch := range characters {
		if !selected[ch.ID] {
			continue
		}
		ctx.Characters = append(ctx.Characters, CharacterContext{
			Name:          ch.Name,
			Role:          ch.Role,
			Traits:        append([]string(nil), ch.Traits...),
			SpeakingStyle: ch.SpeakingStyle,
			Visual:        truncate(ch.VisualDNA.Appearance, MaxVisualChars),
			ModestyRules:  ch.VisualDNA.ModestyRules,
			PoseSheetURL:  ch.VisualDNA.PoseSheetURL,
			StyleHints:    ch.VisualDNA.StyleHints,
		})
	}

	if kb != nil {
		ctx.FaithRules = capRules(kb.FaithRules)
		ctx.VocabularyRules = capRules(kb.VocabularyRules)
		ctx.IllustrationRules = capRules(kb.IllustrationRules)
	}

	return ctx
}

func capRules(rules []string) []string {
	if len(rules) > MaxRulesPerCategory {
		rules = rules[:MaxRulesPerCategory]
	}
	return append([]string(nil), rules...)
}

// truncate cuts s to at most limit bytes, backing up so the cut never
// splits a multi-byte rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
