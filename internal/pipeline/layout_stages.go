package pipeline

import (
	"context"
	"errors"

	"github.com/jonathan/storybook-agent/internal/layout"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

// runLayout builds the page plan from finished artifacts. No remote call,
// no budget, no credits.
func (rs *runState) runLayout(ctx context.Context, res *StageResult) {
	var book types.HumanizedBook
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageHumanize, &book); err != nil {
		fail(res, &Error{Stage: types.StageLayout, Message: "humanized text unavailable", Cause: err})
		return
	}
	if book.NeedsReview || len(book.Chapters) == 0 {
		fail(res, &Error{Stage: types.StageLayout, Message: "humanized text is not ready for layout"})
		return
	}

	var set types.IllustrationSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageIllustrations, &set); err != nil && !errors.Is(err, store.ErrNotFound) {
		fail(res, err)
		return
	}
	var cover types.Cover
	coverPtr := &cover
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageCover, &cover); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			fail(res, err)
			return
		}
		// The cover stage runs after layout on a first pass; its page is
		// added when the export re-lays the book or on a later layout run.
		coverPtr = nil
	}

	lay := layout.BuildPages(rs.project, &book, &set, coverPtr)
	if err := rs.persist(ctx, types.StageLayout, lay); err != nil {
		fail(res, err)
		return
	}
	if err := rs.advance(ctx, types.StageLayout); err != nil {
		fail(res, err)
		return
	}
	res.Message = "page plan built"
}

// runExport writes the book bundle to disk and persists the file manifest.
func (rs *runState) runExport(ctx context.Context, res *StageResult) {
	var lay types.Layout
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageLayout, &lay); err != nil {
		fail(res, &Error{Stage: types.StageExport, Message: "layout artifact unavailable", Cause: err})
		return
	}

	// A cover generated after the page plan gets folded in here so the
	// exported book always opens on it.
	var cover types.Cover
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageCover, &cover); err == nil {
		lay = rs.rebuildWithCover(ctx, lay, &cover)
	} else if !errors.Is(err, store.ErrNotFound) {
		fail(res, err)
		return
	}

	dir := rs.opts.OutputDir
	if dir == "" {
		dir = "export"
	}
	manifest, err := layout.Export(dir, rs.project, lay)
	if err != nil {
		fail(res, &Error{Stage: types.StageExport, Message: "book export failed", Cause: err})
		return
	}
	if err := rs.persist(ctx, types.StageExport, manifest); err != nil {
		fail(res, err)
		return
	}
	res.Message = "book exported"
}

// rebuildWithCover regenerates the page plan when the cover arrived after
// layout ran. Falls back to the stored plan when the inputs are missing.
func (rs *runState) rebuildWithCover(ctx context.Context, lay types.Layout, cover *types.Cover) types.Layout {
	if len(lay.Pages) > 0 && lay.Pages[0].Kind == types.PageImage && lay.Pages[0].Chapter == 0 {
		return lay
	}
	var book types.HumanizedBook
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageHumanize, &book); err != nil {
		return lay
	}
	var set types.IllustrationSet
	if err := store.LoadArtifact(ctx, rs.r.store, rs.project.ID, types.StageIllustrations, &set); err != nil && !errors.Is(err, store.ErrNotFound) {
		return lay
	}
	rebuilt := layout.BuildPages(rs.project, &book, &set, cover)
	_ = rs.persist(ctx, types.StageLayout, rebuilt)
	return rebuilt
}
