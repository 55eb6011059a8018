package assemble

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storybook-agent/internal/budget"
	"github.com/jonathan/storybook-agent/internal/types"
)

func TestOutlinePrompt_ContainsProjectFields(t *testing.T) {
	ctx := Context{
		Title:             "The Lost Lamb",
		AgeRange:          "4-6",
		Setting:           "a hillside village",
		LearningObjective: "kindness",
		Characters: []CharacterContext{
			{Name: "Mira", Role: "shepherd girl", Traits: []string{"brave"}, SpeakingStyle: "gentle", Visual: "curly hair"},
		},
		FaithRules: []string{"always show gratitude"},
	}

	prompt := OutlinePrompt(ctx)
	assert.Contains(t, prompt, "The Lost Lamb")
	assert.Contains(t, prompt, "Mira")
	assert.Contains(t, prompt, "always show gratitude")
	assert.NotContains(t, prompt, "{{.")
}

func TestChapterPrompt_StaysWithinBudget(t *testing.T) {
	ctx := Context{
		Title:    "Big Book",
		AgeRange: "4-6",
	}
	// Oversized free-text inputs must be clamped, not rejected.
	for i := 0; i < 40; i++ {
		ctx.Characters = append(ctx.Characters, CharacterContext{
			Name:   "Char",
			Visual: strings.Repeat("detail ", 100),
		})
	}
	plan := types.OutlineChapter{
		Number:  1,
		Title:   "One",
		Summary: strings.Repeat("summary ", 2000),
	}

	prompt := ChapterPrompt(ctx, plan)
	assert.LessOrEqual(t, budget.EstimateTokens(prompt), 4000)
}

func TestClampProportional_NoChangeWithinLimit(t *testing.T) {
	out := ClampProportional(100, "short", "fields")
	assert.Equal(t, []string{"short", "fields"}, out)
}

func TestClampProportional_ShrinksAllFields(t *testing.T) {
	a := strings.Repeat("a", 300)
	b := strings.Repeat("b", 100)
	out := ClampProportional(200, a, b)

	require.Len(t, out, 2)
	// Both fields shrink; the larger field keeps the larger share.
	assert.Less(t, len(out[0]), 300)
	assert.Less(t, len(out[1]), 100)
	assert.Greater(t, len(out[0]), len(out[1]))
	assert.LessOrEqual(t, len(out[0])+len(out[1]), 200)
}

func TestClampProportional_KeepsRunesWhole(t *testing.T) {
	// Arabic text is multi-byte per rune; a byte-index cut must back up to
	// a rune boundary instead of emitting invalid UTF-8.
	arabic := strings.Repeat("يا مريم انظري الى الفانوس ", 20)
	latin := strings.Repeat("the lantern glows ", 20)
	out := ClampProportional(200, arabic, latin)

	require.Len(t, out, 2)
	assert.True(t, utf8.ValidString(out[0]), "clamped field must stay valid UTF-8")
	assert.True(t, utf8.ValidString(out[1]))
	assert.LessOrEqual(t, len(out[0])+len(out[1]), 200)
}

func TestImagePrompt_EmbedsSceneCharactersAndRules(t *testing.T) {
	chars := []CharacterContext{{
		Name:         "Mira",
		Role:         "shepherd girl",
		Visual:       "curly brown hair, green cloak",
		ModestyRules: "long sleeves, ankle-length skirt",
		StyleHints:   "soft watercolor",
	}}

	prompt, negative := ImagePrompt(types.StageIllustrations, "Mira finds the lamb by the stream", chars, []string{"no scary shadows"})
	assert.Contains(t, prompt, "Mira finds the lamb")
	assert.Contains(t, prompt, "green cloak")
	assert.Contains(t, prompt, "long sleeves")
	assert.Contains(t, prompt, "soft watercolor")
	assert.Contains(t, prompt, "no scary shadows")
	assert.Equal(t, NegativePrompt, negative)
}

func TestImagePrompt_NegativePromptConstantAcrossRequests(t *testing.T) {
	_, neg1 := ImagePrompt(types.StageIllustrations, "scene one", nil, nil)
	_, neg2 := ImagePrompt(types.StageIllustrations, "scene two", nil, nil)
	_, neg3 := ImagePrompt(types.StageCover, "cover scene", nil, nil)
	assert.Equal(t, neg1, neg2)
	assert.Equal(t, neg1, neg3)
}

func TestImagePrompt_ClampedToStageBudget(t *testing.T) {
	prompt, _ := ImagePrompt(types.StageIllustrations, strings.Repeat("very long scene ", 1000), nil, nil)
	assert.LessOrEqual(t, budget.EstimateTokens(prompt), 1000)
}

func TestRepairPrompt_IncludesRawTextAndSchema(t *testing.T) {
	prompt := RepairPrompt(`{"broken": `, "unexpected end of JSON input", `{"type":"object"}`)
	assert.Contains(t, prompt, `{"broken":`)
	assert.Contains(t, prompt, "unexpected end of JSON input")
	assert.Contains(t, prompt, `"object"`)
}
