package types

import "time"

// Review carries the degraded-success markers shared by every artifact.
// The underscore JSON keys match the stored artifact format.
type Review struct {
	NeedsReview bool   `json:"_needsReview,omitempty"`
	RawText     string `json:"_rawText,omitempty"`
}

// OutlineChapter is one planned chapter within an outline.
type OutlineChapter struct {
	Number           int    `json:"number"`
	Title            string `json:"title"`
	Summary          string `json:"summary"`
	SceneDescription string `json:"scene_description"`
}

// Outline is the artifact produced by the outline stage.
type Outline struct {
	Review
	Title    string           `json:"title"`
	Moral    string           `json:"moral"`
	Chapters []OutlineChapter `json:"chapters"`
}

// Chapter is one written chapter of the book.
type Chapter struct {
	Number           int    `json:"number"`
	Title            string `json:"title"`
	Text             string `json:"text"`
	SceneDescription string `json:"scene_description"`
}

// ChapterSet is the artifact produced by the chapters stage. A single run
// may only append a bounded number of chapters; the set accumulates across
// runs.
type ChapterSet struct {
	Review
	Chapters []Chapter `json:"chapters"`
}

// HumanizedBook is the artifact produced by the humanize stage: the chapter
// texts rewritten into a warmer, read-aloud voice.
type HumanizedBook struct {
	Review
	Chapters []Chapter `json:"chapters"`
}

// IllustrationVariant is one generated image result with its own seed.
// Multiple variants may exist per illustration for human selection.
type IllustrationVariant struct {
	ImageURL  string    `json:"image_url"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

// Illustration is the per-chapter illustration artifact.
type Illustration struct {
	Review
	Chapter          int                   `json:"chapter"`
	SceneDescription string                `json:"scene_description"`
	Variants         []IllustrationVariant `json:"variants"`
	References       []string              `json:"references"`
	SelectedVariant  int                   `json:"selected_variant"`
}

// SelectedImageURL returns the image URL of the human-selected variant,
// falling back to the first variant. Empty when no variant exists.
func (il *Illustration) SelectedImageURL() string {
	if il == nil || len(il.Variants) == 0 {
		return ""
	}
	if il.SelectedVariant >= 0 && il.SelectedVariant < len(il.Variants) {
		return il.Variants[il.SelectedVariant].ImageURL
	}
	return il.Variants[0].ImageURL
}

// IllustrationSet is the artifact produced by the illustrations stage.
type IllustrationSet struct {
	Review
	Seed          int64          `json:"seed"`
	Illustrations []Illustration `json:"illustrations"`
}

// ByChapter returns the illustration for the given chapter number, or nil.
func (s *IllustrationSet) ByChapter(chapter int) *Illustration {
	if s == nil {
		return nil
	}
	for i := range s.Illustrations {
		if s.Illustrations[i].Chapter == chapter {
			return &s.Illustrations[i]
		}
	}
	return nil
}

// Cover is the artifact produced by the cover stage.
type Cover struct {
	Review
	SceneDescription string                `json:"scene_description"`
	Variants         []IllustrationVariant `json:"variants"`
	References       []string              `json:"references"`
	SelectedVariant  int                   `json:"selected_variant"`
}

// PageKind distinguishes the content carried by a laid-out page.
type PageKind string

// Page kinds used by the layout stage.
const (
	PageText  PageKind = "text"
	PageImage PageKind = "image"
	PageMixed PageKind = "mixed"
)

// Page is one laid-out book page.
type Page struct {
	Number   int      `json:"number"`
	Kind     PageKind `json:"kind"`
	Chapter  int      `json:"chapter,omitempty"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Layout is the artifact produced by the layout stage.
type Layout struct {
	Review
	Pages []Page `json:"pages"`
}

// ExportedFile is one file written by the export stage.
type ExportedFile struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Bytes int    `json:"bytes"`
}

// ExportManifest is the artifact produced by the export stage.
type ExportManifest struct {
	Review
	Files []ExportedFile `json:"files"`
}
