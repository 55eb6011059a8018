package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storybook-agent/internal/consistency"
	"github.com/jonathan/storybook-agent/internal/credits"
	"github.com/jonathan/storybook-agent/internal/imagegen"
	"github.com/jonathan/storybook-agent/internal/llm"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
	"github.com/jonathan/storybook-agent/internal/usage"
)

const testAccount = "acct-1"

// fakeText replays scripted responses in order.
type fakeText struct {
	mu      sync.Mutex
	replies []textReply
	calls   int
	prompts []string
}

type textReply struct {
	text string
	err  error
}

func (f *fakeText) queue(texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.replies = append(f.replies, textReply{text: t})
	}
}

func (f *fakeText) GenerateText(_ context.Context, prompt string, _ int, _ llm.ModelTier) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if len(f.replies) == 0 {
		return nil, &llm.CallError{Provider: llm.ProviderGemini, Message: "no scripted reply"}
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return &llm.Result{Text: reply.text, InputTokens: 10, OutputTokens: 20}, nil
}

func (f *fakeText) Close() error { return nil }

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeImages records requests and can fail selected call numbers.
type fakeImages struct {
	mu       sync.Mutex
	calls    int
	requests []imagegen.Request
	failOn   map[int]bool
	failAll  bool
}

func (f *fakeImages) GenerateImage(_ context.Context, req imagegen.Request) (*imagegen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.failAll || f.failOn[f.calls] {
		return nil, &imagegen.Error{StatusCode: 500, Message: "synthesis failed", Retryable: false}
	}
	return &imagegen.Result{ImageURL: fmt.Sprintf("https://img.test/gen-%d.png", f.calls), Seed: req.Seed}, nil
}

func (f *fakeImages) CancelGeneration(context.Context, string) error { return nil }

func (f *fakeImages) snapshot() []imagegen.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]imagegen.Request(nil), f.requests...)
}

type rig struct {
	runner  *Runner
	store   *store.MemoryStore
	text    *fakeText
	images  *fakeImages
	ledger  *credits.MemoryLedger
	project *types.Project
}

func newRig(t *testing.T, balance int) *rig {
	t.Helper()
	st := store.NewMemoryStore()
	project := &types.Project{
		ID:                uuid.New(),
		Title:             "The Lantern in the Orchard",
		AgeRange:          "5-7",
		Setting:           "a hillside orchard at dusk",
		LearningObjective: "kindness to neighbours",
		CharacterIDs:      []string{"maryam"},
		CurrentStage:      types.StageOutline,
		IllustrationSize:  types.ImageSize{Width: 1024, Height: 768},
		CoverSize:         types.ImageSize{Width: 800, Height: 1200},
	}
	st.PutProject(project)
	st.PutCharacter(types.Character{
		ID:   "maryam",
		Name: "Maryam",
		Role: "protagonist",
		VisualDNA: types.VisualDNA{
			Appearance:   "a small girl in a green coat",
			PoseSheetURL: "https://img.test/pose-maryam.png",
		},
	})

	text := &fakeText{}
	images := &fakeImages{}
	ledger := credits.NewMemoryLedger(map[string]int{testAccount: balance})
	runner := NewRunner(Config{
		Store:     st,
		Text:      text,
		Images:    images,
		Ledger:    ledger,
		Stats:     usage.NewStats(),
		AccountID: testAccount,
	})
	return &rig{runner: runner, store: st, text: text, images: images, ledger: ledger, project: project}
}

func (r *rig) balance(t *testing.T) int {
	t.Helper()
	b, err := r.ledger.Balance(context.Background(), testAccount)
	require.NoError(t, err)
	return b
}

func (r *rig) currentStage(t *testing.T) types.Stage {
	t.Helper()
	p, err := r.store.GetProject(context.Background(), r.project.ID)
	require.NoError(t, err)
	return p.CurrentStage
}

func outlineJSON(chapters int) string {
	var sb strings.Builder
	sb.WriteString(`{"title":"The Lantern in the Orchard","moral":"kindness returns","chapters":[`)
	for i := 1; i <= chapters; i++ {
		if i > 1 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"number":%d,"title":"Chapter %d","summary":"Maryam helps a neighbour","scene_description":"Maryam under the lantern, scene %d"}`, i, i, i)
	}
	sb.WriteString("]}")
	return sb.String()
}

func chapterJSON(n int) string {
	return fmt.Sprintf(`{"number":%d,"title":"Chapter %d","text":"Maryam walked through the orchard and shared her basket.","scene_description":"Maryam under the lantern, scene %d"}`, n, n, n)
}

func humanizeJSON(chapters int) string {
	var sb strings.Builder
	sb.WriteString(`{"chapters":[`)
	for i := 1; i <= chapters; i++ {
		if i > 1 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"number":%d,"title":"Chapter %d","text":"Maryam smiled, and oh how the lanterns glowed!","scene_description":"Maryam under the lantern, scene %d"}`, i, i, i)
	}
	sb.WriteString("]}")
	return sb.String()
}

func seedChapters(t *testing.T, r *rig, n int) {
	t.Helper()
	var set types.ChapterSet
	for i := 1; i <= n; i++ {
		var ch types.Chapter
		require.NoError(t, json.Unmarshal([]byte(chapterJSON(i)), &ch))
		set.Chapters = append(set.Chapters, ch)
	}
	require.NoError(t, r.store.SaveArtifact(context.Background(), r.project.ID, types.StageChapters, set))
}

func TestOutlineStageWritesArtifactAndAdvances(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(2))

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, 1, res.CallsMade)
	assert.Equal(t, 1, res.CreditsCharged)
	assert.Equal(t, 99, r.balance(t))
	assert.Equal(t, types.StageChapters, r.currentStage(t))

	var outline types.Outline
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageOutline, &outline))
	assert.Equal(t, "The Lantern in the Orchard", outline.Title)
	assert.Len(t, outline.Chapters, 2)
	assert.False(t, outline.NeedsReview)
}

func TestOutlineRepairRecoversMalformedResponse(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue("here is your outline! {not json", outlineJSON(1))

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, 2, res.CallsMade)
	// The repair call is free: only the outline itself is billed.
	assert.Equal(t, 1, res.CreditsCharged)
	assert.Equal(t, 99, r.balance(t))
	assert.Equal(t, types.StageChapters, r.currentStage(t))
}

func TestOutlineNeedsReviewAfterRepairFails(t *testing.T) {
	r := newRig(t, 100)
	raw := "once upon a time, not JSON at all"
	r.text.queue(raw, "still {{{ not json")

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusNeedsReview, res.Status)
	// Exactly one repair attempt: two calls total, never a third.
	assert.Equal(t, 2, r.text.callCount())

	var outline types.Outline
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageOutline, &outline))
	assert.True(t, outline.NeedsReview)
	assert.Equal(t, raw, outline.RawText)

	// The stage pointer stays put until a human clears the artifact.
	assert.Equal(t, types.StageOutline, r.currentStage(t))
}

func TestOutlineRejectedWhenPromptOverBudget(t *testing.T) {
	r := newRig(t, 100)
	r.project.Setting = strings.Repeat("a very long and winding description of the orchard ", 300)
	r.store.PutProject(r.project)

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, res.Status)
	assert.Contains(t, res.Message, "over budget")
	assert.Zero(t, r.text.callCount())
	// Nothing was charged for a refused stage.
	assert.Equal(t, 100, r.balance(t))
	assert.Equal(t, types.StageOutline, r.currentStage(t))
}

func TestOutlineRejectedWhenCreditsInsufficient(t *testing.T) {
	r := newRig(t, 0)

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, res.Status)
	assert.Contains(t, res.Message, "insufficient credits")
	assert.Zero(t, r.text.callCount())
}

func TestCancellationStopsBeforeAnyCall(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(1))
	cancel := types.NewCancelToken()
	cancel.Cancel()

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{Cancel: cancel})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Contains(t, res.Message, "cancel")
	assert.Zero(t, r.text.callCount())
	assert.Equal(t, 100, r.balance(t))
}

func TestChaptersBoundedPerRun(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(3))
	_, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	r.text.queue(chapterJSON(1), chapterJSON(2))
	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageChapters, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Status)
	assert.Contains(t, res.Message, "more chapters remain")
	assert.Equal(t, types.StageChapters, r.currentStage(t))

	var set types.ChapterSet
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageChapters, &set))
	require.Len(t, set.Chapters, 2)

	// The next run picks up chapter 3 and advances.
	r.text.queue(chapterJSON(3))
	res, err = r.runner.RunStage(context.Background(), r.project.ID, types.StageChapters, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, types.StageIllustrations, r.currentStage(t))

	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageChapters, &set))
	assert.Len(t, set.Chapters, 3)
}

func TestChaptersRerunClearsReviewMarker(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(1))
	_, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	// First attempt degrades: the chapter call and its repair both come
	// back as prose, so the set is saved flagged for review.
	raw := "the model wrote a story instead of JSON"
	r.text.queue(raw, "and again, no JSON here")
	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageChapters, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, res.Status)

	var set types.ChapterSet
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageChapters, &set))
	require.True(t, set.NeedsReview)
	require.Equal(t, raw, set.RawText)

	// A clean re-run must wipe the stale marker; the set accumulates
	// across runs and later stages refuse one still flagged for review.
	r.text.queue(chapterJSON(1))
	res, err = r.runner.RunStage(context.Background(), r.project.ID, types.StageChapters, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusOk, res.Status)
	assert.Equal(t, types.StageIllustrations, r.currentStage(t))

	set = types.ChapterSet{}
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageChapters, &set))
	assert.False(t, set.NeedsReview)
	assert.Empty(t, set.RawText)
	require.Len(t, set.Chapters, 1)

	// The recovered set is accepted downstream.
	res, err = r.runner.RunStage(context.Background(), r.project.ID, types.StageIllustrations, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
}

func TestArtifactSaveRetriesOnce(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(1))
	r.store.FailSaves = 1

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
}

func TestArtifactSaveFailsAfterRetry(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(1))
	r.store.FailSaves = 2

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "after retry")
	assert.Equal(t, types.StageOutline, r.currentStage(t))
}

func TestIllustrationsChainOffChapterOne(t *testing.T) {
	r := newRig(t, 100)
	seedChapters(t, r, 3)

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageIllustrations, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, 3, res.CallsMade)
	assert.Equal(t, 24, res.CreditsCharged)

	reqs := r.images.snapshot()
	require.Len(t, reqs, 3)

	// Chapter 1 establishes the look from pose sheets alone.
	assert.Equal(t, []string{"https://img.test/pose-maryam.png"}, reqs[0].References)
	assert.Equal(t, consistency.BaseReferenceStrength, reqs[0].ReferenceStrength)

	// Later chapters prepend chapter 1's image and bias harder toward it.
	var set types.IllustrationSet
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageIllustrations, &set))
	anchor := set.ByChapter(1).SelectedImageURL()
	require.NotEmpty(t, anchor)
	for _, req := range reqs[1:] {
		require.NotEmpty(t, req.References)
		assert.Equal(t, anchor, req.References[0])
		assert.Equal(t, consistency.ChainedReferenceStrength, req.ReferenceStrength)
	}

	// Every call shares the project-derived seed.
	want := consistency.DeriveSeed(r.project.ID)
	for _, req := range reqs {
		assert.Equal(t, want, req.Seed)
	}
	assert.Equal(t, want, set.Seed)
}

func TestIllustrationVariantFailureTolerated(t *testing.T) {
	r := newRig(t, 100)
	seedChapters(t, r, 1)
	r.images.failOn = map[int]bool{2: true}

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageIllustrations, RunOptions{Variants: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
	// Both calls billed even though one failed.
	assert.Equal(t, 16, res.CreditsCharged)

	var set types.IllustrationSet
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageIllustrations, &set))
	require.NotNil(t, set.ByChapter(1))
	assert.Len(t, set.ByChapter(1).Variants, 1)
}

func TestIllustrationFailsWhenEveryVariantFails(t *testing.T) {
	r := newRig(t, 100)
	seedChapters(t, r, 1)
	r.images.failAll = true

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageIllustrations, RunOptions{Variants: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "every variant failed")
	assert.Equal(t, types.StageOutline, r.currentStage(t))
}

func TestCoverChainsOffChapterOneIllustration(t *testing.T) {
	r := newRig(t, 100)
	r.text.queue(outlineJSON(1))
	_, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	require.NoError(t, err)

	anchor := "https://img.test/ch1-selected.png"
	set := types.IllustrationSet{
		Seed: consistency.DeriveSeed(r.project.ID),
		Illustrations: []types.Illustration{
			{Chapter: 1, Variants: []types.IllustrationVariant{{ImageURL: anchor}}},
		},
	}
	require.NoError(t, r.store.SaveArtifact(context.Background(), r.project.ID, types.StageIllustrations, set))

	// Point the stage at cover so the runner accepts the request.
	stage := types.StageCover
	require.NoError(t, r.store.UpdateProject(context.Background(), r.project.ID, types.ProjectPatch{CurrentStage: &stage}))

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageCover, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, 5, res.CreditsCharged)

	reqs := r.images.snapshot()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].References)
	assert.Equal(t, anchor, reqs[0].References[0])
	assert.Equal(t, consistency.ChainedReferenceStrength, reqs[0].ReferenceStrength)
	assert.Equal(t, 800, reqs[0].Width)
	assert.Equal(t, 1200, reqs[0].Height)
	assert.Equal(t, types.StageExport, r.currentStage(t))
}

func TestReuseSkipsExistingArtifact(t *testing.T) {
	r := newRig(t, 100)
	var outline types.Outline
	require.NoError(t, json.Unmarshal([]byte(outlineJSON(1)), &outline))
	require.NoError(t, r.store.SaveArtifact(context.Background(), r.project.ID, types.StageOutline, outline))

	res, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{Reuse: true})
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Zero(t, r.text.callCount())
	assert.Equal(t, 100, r.balance(t))
	assert.Equal(t, types.StageChapters, r.currentStage(t))
}

func TestRunRejectsSecondConcurrentRun(t *testing.T) {
	r := newRig(t, 100)
	require.NoError(t, r.runner.lock(r.project.ID))
	defer r.runner.unlock(r.project.ID)

	_, err := r.runner.RunStage(context.Background(), r.project.ID, types.StageOutline, RunOptions{})
	assert.ErrorIs(t, err, ErrRunInFlight)
}

func TestFullPipelineRunToExport(t *testing.T) {
	r := newRig(t, 100)
	dir := t.TempDir()

	// Three chapters means chapter generation needs two runs under the
	// per-run cap; everything else completes as it is reached.
	r.text.queue(outlineJSON(3), chapterJSON(1), chapterJSON(2), chapterJSON(3), humanizeJSON(3))

	var all []*StageResult
	for i := 0; i < 6; i++ {
		results, err := r.runner.Run(context.Background(), r.project.ID, RunOptions{OutputDir: dir})
		require.NoError(t, err)
		all = append(all, results...)
		if r.currentStage(t) == types.StageExport && results[len(results)-1].Stage == types.StageExport {
			break
		}
	}

	for _, res := range all {
		require.Equal(t, StatusOk, res.Status, "stage %s: %s", res.Stage, res.Message)
	}
	last := all[len(all)-1]
	assert.Equal(t, types.StageExport, last.Stage)

	// outline 1 + chapters 3x3 + illustrations 3x8 + humanize 2 + cover 5
	spent := 0
	for _, res := range all {
		spent += res.CreditsCharged
	}
	assert.Equal(t, 41, spent)
	assert.Equal(t, 100-41, r.balance(t))

	var manifest types.ExportManifest
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageExport, &manifest))
	assert.NotEmpty(t, manifest.Files)

	var lay types.Layout
	require.NoError(t, store.LoadArtifact(context.Background(), r.store, r.project.ID, types.StageLayout, &lay))
	assert.NotEmpty(t, lay.Pages)
	// The exported book opens on the cover image.
	assert.Equal(t, types.PageImage, lay.Pages[0].Kind)

	totals := r.runner.Stats().Totals()
	assert.Equal(t, 9, totals.Calls)
	assert.Zero(t, totals.Failures)
}

func TestRunStopsAtFirstTerminalResult(t *testing.T) {
	r := newRig(t, 1)
	r.text.queue(outlineJSON(2), chapterJSON(1))

	results, err := r.runner.Run(context.Background(), r.project.ID, RunOptions{})
	require.NoError(t, err)

	// Outline succeeds on the single credit; chapters are refused and the
	// run stops there.
	require.Len(t, results, 2)
	assert.Equal(t, StatusOk, results[0].Status)
	assert.Equal(t, StatusRejected, results[1].Status)
	assert.Equal(t, types.StageChapters, r.currentStage(t))
}
