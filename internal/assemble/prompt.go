package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/storybook-agent/internal/budget"
	"github.com/jonathan/storybook-agent/internal/prompts"
	"github.com/jonathan/storybook-agent/internal/types"
)

const stageTemplates = "stages.json"

// OutlinePrompt renders the outline stage prompt.
func OutlinePrompt(ctx Context) string {
	template := prompts.MustGet(stageTemplates, "outline")
	characters, rules := clampForStage(types.StageOutline, template, formatCharacters(ctx), formatRules(ctx))
	return prompts.Format(template, map[string]string{
		"Title":             ctx.Title,
		"AgeRange":          ctx.AgeRange,
		"Setting":           ctx.Setting,
		"LearningObjective": ctx.LearningObjective,
		"Characters":        characters,
		"Rules":             rules,
	})
}

// ChapterPrompt renders the chapters stage prompt for one planned chapter.
func ChapterPrompt(ctx Context, plan types.OutlineChapter) string {
	template := prompts.MustGet(stageTemplates, "chapters")
	planText := fmt.Sprintf("Title: %s\nSummary: %s\nScene: %s", plan.Title, plan.Summary, plan.SceneDescription)
	clamped := ClampProportional(stageCharBudget(types.StageChapters, template),
		formatCharacters(ctx), formatRules(ctx), planText)
	return prompts.Format(template, map[string]string{
		"Title":             ctx.Title,
		"AgeRange":          ctx.AgeRange,
		"Setting":           ctx.Setting,
		"LearningObjective": ctx.LearningObjective,
		"ChapterNumber":     fmt.Sprintf("%d", plan.Number),
		"Characters":        clamped[0],
		"Rules":             clamped[1],
		"ChapterPlan":       clamped[2],
	})
}

// HumanizePrompt renders the humanize stage prompt over the written chapters.
func HumanizePrompt(ctx Context, chapters []types.Chapter) string {
	template := prompts.MustGet(stageTemplates, "humanize")
	body, err := json.MarshalIndent(map[string]any{"chapters": chapters}, "", "  ")
	if err != nil {
		body = []byte("{}")
	}
	clamped := ClampProportional(stageCharBudget(types.StageHumanize, template),
		formatRules(ctx), string(body))
	return prompts.Format(template, map[string]string{
		"AgeRange": ctx.AgeRange,
		"Rules":    clamped[0],
		"Chapters": clamped[1],
	})
}

// RepairPrompt renders the schema-aware repair prompt around the offending
// raw text.
func RepairPrompt(rawText, parseError, schema string) string {
	template := prompts.MustGet(stageTemplates, "repair")
	clamped := ClampProportional(stageCharBudget(types.StageJSONRepair, template),
		rawText, parseError, schema)
	return prompts.Format(template, map[string]string{
		"RawText":    clamped[0],
		"ParseError": clamped[1],
		"Schema":     clamped[2],
	})
}

// NegativePrompt is the fixed negative prompt attached to every image
// request. It suppresses text artifacts, anatomical errors, and immodest
// depictions, and is identical for every request of an image stage.
const NegativePrompt = "text, letters, words, watermark, signature, extra fingers, extra limbs, deformed hands, distorted face, immodest clothing, revealing clothing, frightening imagery, photorealistic"

// ImagePrompt builds the positive prompt for an illustration or cover and
// returns the stage-constant negative prompt alongside it.
func ImagePrompt(stage types.Stage, scene string, characters []CharacterContext, illustrationRules []string) (prompt, negative string) {
	var sb strings.Builder
	sb.WriteString("Children's book illustration, warm storybook style. ")
	sb.WriteString("Scene: ")
	sb.WriteString(scene)

	for _, ch := range characters {
		sb.WriteString(fmt.Sprintf(". %s (%s): %s", ch.Name, ch.Role, ch.Visual))
		if ch.ModestyRules != "" {
			sb.WriteString(". Modesty: ")
			sb.WriteString(ch.ModestyRules)
		}
		if ch.StyleHints != "" {
			sb.WriteString(". Style: ")
			sb.WriteString(ch.StyleHints)
		}
	}

	for _, rule := range illustrationRules {
		sb.WriteString(". ")
		sb.WriteString(rule)
	}

	full := truncate(sb.String(), stageCharBudget(stage, ""))
	return full, NegativePrompt
}

// ClampProportional shrinks free-text fields so their combined length fits
// limitChars. Shrinking is proportional across all fields rather than
// truncating only the last one, so every input keeps a representative share
// of the budget. Fields already within budget are returned unchanged.
func ClampProportional(limitChars int, fields ...string) []string {
	total := 0
	for _, f := range fields {
		total += len(f)
	}
	out := make([]string, len(fields))
	if total <= limitChars || total == 0 {
		copy(out, fields)
		return out
	}

	for i, f := range fields {
		keep := len(f) * limitChars / total
		out[i] = truncate(f, keep)
	}
	return out
}

// stageCharBudget converts a stage's prompt token budget into a character
// budget for the template's variable fields, reserving the template text
// itself.
func stageCharBudget(stage types.Stage, template string) int {
	b, ok := budget.ForStage(stage)
	if !ok {
		return 0
	}
	chars := b.MaxPromptTokens*4 - len(template)
	if chars < 0 {
		return 0
	}
	return chars
}

func formatCharacters(ctx Context) string {
	var sb strings.Builder
	for _, ch := range ctx.Characters {
		fmt.Fprintf(&sb, "- %s (%s): traits %s; speaks %s; looks: %s\n",
			ch.Name, ch.Role, strings.Join(ch.Traits, ", "), ch.SpeakingStyle, ch.Visual)
	}
	if sb.Len() == 0 {
		return "(none)"
	}
	return sb.String()
}

func formatRules(ctx Context) string {
	var sb strings.Builder
	writeCategory := func(name string, rules []string) {
		for _, r := range rules {
			fmt.Fprintf(&sb, "- [%s] %s\n", name, r)
		}
	}
	writeCategory("faith", ctx.FaithRules)
	writeCategory("vocabulary", ctx.VocabularyRules)
	writeCategory("illustration", ctx.IllustrationRules)
	if sb.Len() == 0 {
		return "(none)"
	}
	return sb.String()
}

// clampForStage clamps a characters/rules pair against one stage's budget.
func clampForStage(stage types.Stage, template, characters, rules string) (string, string) {
	clamped := ClampProportional(stageCharBudget(stage, template), characters, rules)
	return clamped[0], clamped[1]
}
