package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/storybook-agent/internal/assemble"
	"github.com/jonathan/storybook-agent/internal/budget"
	"github.com/jonathan/storybook-agent/internal/consistency"
	"github.com/jonathan/storybook-agent/internal/credits"
	"github.com/jonathan/storybook-agent/internal/imagegen"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

// variantConcurrency bounds parallel image calls per illustration.
const variantConcurrency = 2

// variantOutcome is one variant goroutine's report.
type variantOutcome struct {
	variant *types.IllustrationVariant
	charged int
	calls   int
	err     error
}

// generateVariants issues up to n image calls for one illustration, each
// billed under its own attempt ID. Variants run concurrently but bounded;
// each goroutine polls the cancel token before its call. Individual variant
// failures are tolerated and reported in the outcomes, never as a group
// error.
func (rs *runState) generateVariants(ctx context.Context, stage types.Stage, req imagegen.Request, n, cost int) []variantOutcome {
	outcomes := make([]variantOutcome, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(variantConcurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			out := &outcomes[i]
			if rs.cancelled() {
				out.err = errCancelled
				return nil
			}
			if err := rs.r.ledger.Deduct(gctx, rs.r.accountID, uuid.New(), stage, cost); err != nil {
				out.err = err
				return nil
			}
			out.charged = cost

			vreq := req
			vreq.Seed = req.Seed + int64(i)
			result, err := rs.r.images.GenerateImage(gctx, vreq)
			out.calls = 1
			if err != nil {
				rs.r.stats.RecordFailure(stage, imagegen.ProviderName)
				out.err = err
				return nil
			}
			rs.r.stats.RecordCall(stage, imagegen.ProviderName, budget.EstimateTokens(req.Prompt), 0)
			out.variant = &types.IllustrationVariant{
				ImageURL:  result.ImageURL,
				Seed:      result.Seed,
				CreatedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// collectVariants folds outcomes into the stage result and returns the
// successful variants plus the first stop-worthy error (cancellation or
// insufficient credits). Plain call failures only surface when every
// variant failed.
func collectVariants(res *StageResult, outcomes []variantOutcome) ([]types.IllustrationVariant, error) {
	var variants []types.IllustrationVariant
	var stopErr, callErr error
	for i := range outcomes {
		out := &outcomes[i]
		res.CreditsCharged += out.charged
		res.CallsMade += out.calls
		if out.variant != nil {
			variants = append(variants, *out.variant)
			continue
		}
		switch {
		case errors.Is(out.err, errCancelled), errors.Is(out.err, credits.ErrInsufficientCredits):
			if stopErr == nil {
				stopErr = out.err
			}
		case out.err != nil:
			callErr = out.err
		}
	}
	if stopErr != nil {
		return variants, stopErr
	}
	if len(variants) == 0 && callErr != nil {
		return nil, callErr
	}
	return variants, nil
}

// poseSheets gathers the pose sheet URLs of the project's characters.
func poseSheets(chars []assemble.CharacterContext) []string {
	var sheets []string
	for _, c := range chars {
		if c.PoseSheetURL != "" {
			sheets = append(sheets, c.PoseSheetURL)
		}
	}
	return sheets
}

func (rs *runState) runIllustrations(ctx context.Context, res *StageResult) {
	var chapters types.ChapterSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageChapters, &chapters); err != nil {
		fail(res, &Error{Stage: types.StageIllustrations, Message: "chapters artifact unavailable", Cause: err})
		return
	}
	if chapters.NeedsReview || len(chapters.Chapters) == 0 {
		fail(res, &Error{Stage: types.StageIllustrations, Message: "chapters are not ready to illustrate"})
		return
	}

	var set types.IllustrationSet
	err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageIllustrations, &set)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		fail(res, err)
		return
	}
	set.Seed = consistency.SeedForSet(&set, rs.project.ID)

	pctx, err := rs.promptContext(ctx)
	if err != nil {
		fail(res, err)
		return
	}
	sheets := poseSheets(pctx.Characters)
	b, _ := budget.ForStage(types.StageIllustrations)

	generated := 0
	for _, ch := range chapters.Chapters {
		if set.ByChapter(ch.Number) != nil {
			continue
		}
		if generated >= budget.MaxIllustrationsPerRun {
			break
		}

		anchor := set.ByChapter(1).SelectedImageURL()
		plan := consistency.BuildPlan(ch.Number, anchor, sheets)
		if plan.Warning != "" {
			rs.emit(types.StageIllustrations, "fallback", "chapter %d: %s", ch.Number, plan.Warning)
		}

		prompt, negative := assemble.ImagePrompt(types.StageIllustrations, ch.SceneDescription, pctx.Characters, pctx.IllustrationRules)
		if cerr := budget.CheckPrompt(types.StageIllustrations, prompt); cerr != nil {
			rs.persistIllustrations(ctx, &set)
			classify(res, cerr)
			return
		}
		if rerr := rs.meter.Reserve(types.StageIllustrations, budget.EstimateTokens(prompt)); rerr != nil {
			rs.persistIllustrations(ctx, &set)
			classify(res, &rejectError{cause: rerr})
			return
		}

		req := imagegen.Request{
			Prompt:            prompt,
			NegativePrompt:    negative,
			Width:             rs.project.IllustrationSize.Width,
			Height:            rs.project.IllustrationSize.Height,
			Seed:              set.Seed,
			References:        plan.References,
			ReferenceStrength: plan.Strength,
		}
		rs.emit(types.StageIllustrations, "calling", "generating chapter %d illustration (%d variants)", ch.Number, rs.opts.variants())
		outcomes := rs.generateVariants(ctx, types.StageIllustrations, req, rs.opts.variants(), b.CreditCost)
		variants, verr := collectVariants(res, outcomes)

		if len(variants) > 0 {
			set.Illustrations = append(set.Illustrations, types.Illustration{
				Chapter:          ch.Number,
				SceneDescription: ch.SceneDescription,
				Variants:         variants,
				References:       plan.References,
			})
			generated++
		}

		if verr != nil {
			rs.persistIllustrations(ctx, &set)
			classify(res, verr)
			return
		}
		if len(variants) == 0 {
			rs.persistIllustrations(ctx, &set)
			fail(res, &Error{Stage: types.StageIllustrations, Message: fmt.Sprintf("every variant failed for chapter %d", ch.Number)})
			return
		}
	}

	if err := rs.persist(ctx, types.StageIllustrations, set); err != nil {
		fail(res, err)
		return
	}
	if len(set.Illustrations) >= len(chapters.Chapters) {
		if err := rs.advance(ctx, types.StageIllustrations); err != nil {
			fail(res, err)
			return
		}
		res.Message = "all chapters illustrated"
		return
	}
	res.Message = "illustration cap reached, more chapters remain for the next run"
}

// persistIllustrations is the best-effort save before a mid-stage stop.
func (rs *runState) persistIllustrations(ctx context.Context, set *types.IllustrationSet) {
	if len(set.Illustrations) == 0 {
		return
	}
	_ = rs.persist(ctx, types.StageIllustrations, set)
}

func (rs *runState) runCover(ctx context.Context, res *StageResult) {
	var outline types.Outline
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageOutline, &outline); err != nil {
		fail(res, &Error{Stage: types.StageCover, Message: "outline artifact unavailable", Cause: err})
		return
	}

	var set types.IllustrationSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageIllustrations, &set); err != nil && !errors.Is(err, store.ErrNotFound) {
		fail(res, err)
		return
	}

	pctx, err := rs.promptContext(ctx)
	if err != nil {
		fail(res, err)
		return
	}
	sheets := poseSheets(pctx.Characters)

	// The cover chains off chapter 1's look exactly like a later chapter
	// would, falling back to pose sheets when no anchor exists yet.
	anchor := set.ByChapter(1).SelectedImageURL()
	plan := consistency.BuildPlan(2, anchor, sheets)
	if plan.Warning != "" {
		rs.emit(types.StageCover, "fallback", "%s", plan.Warning)
	}

	scene := fmt.Sprintf("Front cover of the book %q, set in %s, featuring the main characters together", outline.Title, rs.project.Setting)
	prompt, negative := assemble.ImagePrompt(types.StageCover, scene, pctx.Characters, pctx.IllustrationRules)
	if cerr := budget.CheckPrompt(types.StageCover, prompt); cerr != nil {
		classify(res, cerr)
		return
	}
	if rerr := rs.meter.Reserve(types.StageCover, budget.EstimateTokens(prompt)); rerr != nil {
		classify(res, &rejectError{cause: rerr})
		return
	}

	seed := consistency.SeedForSet(&set, rs.project.ID)
	b, _ := budget.ForStage(types.StageCover)
	req := imagegen.Request{
		Prompt:            prompt,
		NegativePrompt:    negative,
		Width:             rs.project.CoverSize.Width,
		Height:            rs.project.CoverSize.Height,
		Seed:              seed,
		References:        plan.References,
		ReferenceStrength: plan.Strength,
	}
	rs.emit(types.StageCover, "calling", "generating cover (%d variants)", rs.opts.variants())
	outcomes := rs.generateVariants(ctx, types.StageCover, req, rs.opts.variants(), b.CreditCost)
	variants, verr := collectVariants(res, outcomes)
	if verr != nil {
		classify(res, verr)
		return
	}
	if len(variants) == 0 {
		fail(res, &Error{Stage: types.StageCover, Message: "every cover variant failed"})
		return
	}

	cover := types.Cover{
		SceneDescription: scene,
		Variants:         variants,
		References:       plan.References,
	}
	if err := rs.persist(ctx, types.StageCover, cover); err != nil {
		fail(res, err)
		return
	}
	if err := rs.advance(ctx, types.StageCover); err != nil {
		fail(res, err)
		return
	}
	res.Message = "cover generated"
}
