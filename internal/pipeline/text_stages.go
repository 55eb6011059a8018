package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jonathan/storybook-agent/internal/assemble"
	"github.com/jonathan/storybook-agent/internal/budget"
	"github.com/jonathan/storybook-agent/internal/llm"
	"github.com/jonathan/storybook-agent/internal/schemas"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

// promptContext loads the project's characters and knowledge base and trims
// them into the shared prompt context. A missing knowledge base is not an
// error; the prompts simply carry no rules.
func (rs *runState) promptContext(ctx context.Context) (assemble.Context, error) {
	chars, err := rs.r.store.GetCharacters(ctx, rs.project.CharacterIDs)
	if err != nil {
		return assemble.Context{}, err
	}
	kb, err := rs.r.store.GetKnowledgeBase(ctx, rs.project.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return assemble.Context{}, err
	}
	return assemble.BuildContext(rs.project, chars, kb), nil
}

// generateStructured runs one billable text call through the full guarded
// path: cancel check, prompt budget, book ceiling, credit charge, provider
// call, JSON extraction, schema validation, and at most one free repair
// call. On unrepairable output it returns a Review carrying the raw text
// instead of an error so the caller can persist a degraded artifact.
func (rs *runState) generateStructured(ctx context.Context, stage types.Stage, prompt string, res *StageResult) (string, types.Review, error) {
	if rs.cancelled() {
		return "", types.Review{}, errCancelled
	}
	if err := budget.CheckPrompt(stage, prompt); err != nil {
		return "", types.Review{}, err
	}
	if err := rs.meter.Reserve(stage, budget.EstimateTokens(prompt)); err != nil {
		return "", types.Review{}, &rejectError{cause: err}
	}

	b, _ := budget.ForStage(stage)
	if err := rs.charge(ctx, stage, b.CreditCost, res); err != nil {
		return "", types.Review{}, err
	}

	rs.emit(stage, "calling", "calling text model (%d prompt tokens estimated)", budget.EstimateTokens(prompt))
	raw, err := rs.callText(ctx, stage, prompt, b.MaxOutputTokens, res)
	if err != nil {
		return "", types.Review{}, err
	}

	clean := llm.CleanJSONBlock(raw)
	verr := validateStructured(stage, clean)
	if verr == nil {
		return clean, types.Review{}, nil
	}

	rs.emit(stage, "parse_failed", "response failed validation, attempting repair: %v", verr)
	repaired, rerr := rs.repair(ctx, stage, raw, verr, res)
	if rerr == nil {
		return repaired, types.Review{}, nil
	}
	if errors.Is(rerr, errCancelled) || isInfrastructure(rerr) {
		return "", types.Review{}, rerr
	}

	rs.emit(stage, "needs_review", "repair failed, persisting raw response for review")
	return "", types.Review{NeedsReview: true, RawText: raw}, nil
}

// callText issues one provider call and records usage either way.
func (rs *runState) callText(ctx context.Context, stage types.Stage, prompt string, maxOutputTokens int, res *StageResult) (string, error) {
	result, err := rs.r.text.GenerateText(ctx, prompt, maxOutputTokens, rs.r.tier)
	res.CallsMade++
	if err != nil {
		rs.r.stats.RecordFailure(stage, llm.ProviderGemini)
		return "", err
	}
	rs.r.stats.RecordCall(stage, llm.ProviderGemini, result.InputTokens, result.OutputTokens)
	return result.Text, nil
}

// validateStructured checks that clean is a JSON object matching the
// stage's schema, when one exists.
func validateStructured(stage types.Stage, clean string) error {
	if !json.Valid([]byte(clean)) {
		return &schemas.ValidationError{Stage: stage, Errors: []schemas.FieldError{{Field: "(root)", Message: "response is not valid JSON"}}}
	}
	return schemas.ValidateStage(stage, clean)
}

// repair makes the single free schema-repair call. Its budget comes from
// the json_repair row, not the failing stage's.
func (rs *runState) repair(ctx context.Context, stage types.Stage, raw string, verr error, res *StageResult) (string, error) {
	prompt := assemble.RepairPrompt(raw, verr.Error(), schemas.ForStage(stage))
	if err := budget.CheckPrompt(types.StageJSONRepair, prompt); err != nil {
		return "", err
	}
	if err := rs.meter.Reserve(types.StageJSONRepair, budget.EstimateTokens(prompt)); err != nil {
		return "", &rejectError{cause: err}
	}
	if rs.cancelled() {
		return "", errCancelled
	}

	b, _ := budget.ForStage(types.StageJSONRepair)
	if err := rs.charge(ctx, types.StageJSONRepair, b.CreditCost, res); err != nil {
		return "", err
	}

	rs.emit(stage, "repairing", "issuing free repair call")
	raw2, err := rs.callText(ctx, types.StageJSONRepair, prompt, b.MaxOutputTokens, res)
	if err != nil {
		return "", err
	}
	clean := llm.CleanJSONBlock(raw2)
	if verr2 := validateStructured(stage, clean); verr2 != nil {
		return "", verr2
	}
	return clean, nil
}

// isInfrastructure reports whether the repair path failed for a reason
// other than the model's output. Validation and budget errors mean the
// output itself is bad and the stage degrades to needs-review; anything
// else (provider outage, persistence) fails the stage outright.
func isInfrastructure(err error) bool {
	var ve *schemas.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var be *budget.Error
	if errors.As(err, &be) {
		return false
	}
	var re *rejectError
	if errors.As(err, &re) {
		return false
	}
	return true
}

func (rs *runState) runOutline(ctx context.Context, res *StageResult) {
	pctx, err := rs.promptContext(ctx)
	if err != nil {
		fail(res, err)
		return
	}
	prompt := assemble.OutlinePrompt(pctx)

	clean, review, err := rs.generateStructured(ctx, types.StageOutline, prompt, res)
	if err != nil {
		classify(res, err)
		return
	}

	outline := types.Outline{Review: review}
	if !review.NeedsReview {
		if err := json.Unmarshal([]byte(clean), &outline); err != nil {
			fail(res, &Error{Stage: types.StageOutline, Message: "validated response did not decode", Cause: err})
			return
		}
	}
	if err := rs.persist(ctx, types.StageOutline, outline); err != nil {
		fail(res, err)
		return
	}
	if review.NeedsReview {
		res.Status = StatusNeedsReview
		res.Message = "outline saved with raw text for review"
		return
	}
	if err := rs.advance(ctx, types.StageOutline); err != nil {
		fail(res, err)
		return
	}
	res.Message = "outline written"
}

func (rs *runState) runChapters(ctx context.Context, res *StageResult) {
	var outline types.Outline
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageOutline, &outline); err != nil {
		fail(res, &Error{Stage: types.StageChapters, Message: "outline artifact unavailable", Cause: err})
		return
	}
	if outline.NeedsReview {
		fail(res, &Error{Stage: types.StageChapters, Message: "outline is awaiting review and cannot seed chapters"})
		return
	}

	var set types.ChapterSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageChapters, &set); err != nil && !errors.Is(err, store.ErrNotFound) {
		fail(res, err)
		return
	}

	pctx, err := rs.promptContext(ctx)
	if err != nil {
		fail(res, err)
		return
	}

	written := make(map[int]bool, len(set.Chapters))
	for _, ch := range set.Chapters {
		written[ch.Number] = true
	}

	generated := 0
	for _, plan := range outline.Chapters {
		if written[plan.Number] {
			continue
		}
		if generated >= budget.MaxChaptersPerRun {
			break
		}

		prompt := assemble.ChapterPrompt(pctx, plan)
		clean, review, gerr := rs.generateStructured(ctx, types.StageChapters, prompt, res)
		if gerr != nil {
			rs.persistPartialChapters(ctx, set, generated)
			classify(res, gerr)
			return
		}
		if review.NeedsReview {
			set.Review = review
			if perr := rs.persist(ctx, types.StageChapters, set); perr != nil {
				fail(res, perr)
				return
			}
			res.Status = StatusNeedsReview
			res.Message = "chapter response saved with raw text for review"
			return
		}

		var ch types.Chapter
		if uerr := json.Unmarshal([]byte(clean), &ch); uerr != nil {
			fail(res, &Error{Stage: types.StageChapters, Message: "validated chapter did not decode", Cause: uerr})
			return
		}
		if ch.Number == 0 {
			ch.Number = plan.Number
		}
		set.Chapters = append(set.Chapters, ch)
		generated++
		rs.emit(types.StageChapters, "chapter_written", "chapter %d written", ch.Number)
	}

	// The set accumulates across runs, so a review marker left by an
	// earlier degraded run must be cleared once a pass gets through
	// cleanly; later stages refuse a set still flagged for review.
	set.Review = types.Review{}
	if err := rs.persist(ctx, types.StageChapters, set); err != nil {
		fail(res, err)
		return
	}
	if len(set.Chapters) >= len(outline.Chapters) {
		if err := rs.advance(ctx, types.StageChapters); err != nil {
			fail(res, err)
			return
		}
		res.Message = "all chapters written"
		return
	}
	res.Message = "chapter cap reached, more chapters remain for the next run"
}

// persistPartialChapters keeps chapters written before a mid-stage stop.
// Best effort: the stop reason is what the caller reports.
func (rs *runState) persistPartialChapters(ctx context.Context, set types.ChapterSet, generated int) {
	if generated == 0 {
		return
	}
	_ = rs.persist(ctx, types.StageChapters, set)
}

func (rs *runState) runHumanize(ctx context.Context, res *StageResult) {
	var set types.ChapterSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageChapters, &set); err != nil {
		fail(res, &Error{Stage: types.StageHumanize, Message: "chapters artifact unavailable", Cause: err})
		return
	}
	if set.NeedsReview || len(set.Chapters) == 0 {
		fail(res, &Error{Stage: types.StageHumanize, Message: "chapters are not ready to humanize"})
		return
	}

	pctx, err := rs.promptContext(ctx)
	if err != nil {
		fail(res, err)
		return
	}
	prompt := assemble.HumanizePrompt(pctx, set.Chapters)

	clean, review, err := rs.generateStructured(ctx, types.StageHumanize, prompt, res)
	if err != nil {
		classify(res, err)
		return
	}

	book := types.HumanizedBook{Review: review}
	if !review.NeedsReview {
		if err := json.Unmarshal([]byte(clean), &book); err != nil {
			fail(res, &Error{Stage: types.StageHumanize, Message: "validated response did not decode", Cause: err})
			return
		}
	}
	if err := rs.persist(ctx, types.StageHumanize, book); err != nil {
		fail(res, err)
		return
	}
	if review.NeedsReview {
		res.Status = StatusNeedsReview
		res.Message = "humanized text saved with raw text for review"
		return
	}
	if err := rs.advance(ctx, types.StageHumanize); err != nil {
		fail(res, err)
		return
	}
	res.Message = "chapters humanized"
}
