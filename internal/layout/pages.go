package layout

import (
	"strings"

	"github.com/jonathan/storybook-agent/internal/types"
)

// MaxCharsPerPage bounds the text carried by one page. Chapter text longer
// than this spills onto continuation pages, split on paragraph boundaries.
const MaxCharsPerPage = 600

// BuildPages interleaves the finished artifacts into the book's page plan:
// cover, title page, then one illustration page followed by text pages per
// chapter. The function is pure and deterministic.
func BuildPages(project *types.Project, book *types.HumanizedBook, set *types.IllustrationSet, cover *types.Cover) types.Layout {
	var pages []types.Page
	number := 0
	add := func(p types.Page) {
		number++
		p.Number = number
		pages = append(pages, p)
	}

	if cover != nil {
		if url := coverImageURL(cover); url != "" {
			add(types.Page{Kind: types.PageImage, ImageURL: url})
		}
	}
	add(types.Page{Kind: types.PageText, Text: project.Title})

	for _, ch := range book.Chapters {
		url := set.ByChapter(ch.Number).SelectedImageURL()
		texts := splitText(ch.Text)

		if url != "" && len(texts) == 1 {
			add(types.Page{Kind: types.PageMixed, Chapter: ch.Number, Text: texts[0], ImageURL: url})
			continue
		}
		if url != "" {
			add(types.Page{Kind: types.PageImage, Chapter: ch.Number, ImageURL: url})
		}
		for _, t := range texts {
			add(types.Page{Kind: types.PageText, Chapter: ch.Number, Text: t})
		}
	}

	return types.Layout{Pages: pages}
}

// coverImageURL picks the selected cover variant, falling back to the first.
func coverImageURL(cover *types.Cover) string {
	if len(cover.Variants) == 0 {
		return ""
	}
	if cover.SelectedVariant >= 0 && cover.SelectedVariant < len(cover.Variants) {
		return cover.Variants[cover.SelectedVariant].ImageURL
	}
	return cover.Variants[0].ImageURL
}

// splitText packs paragraphs into pages of at most MaxCharsPerPage. A
// single paragraph longer than the limit gets its own page rather than
// being cut mid-sentence.
func splitText(text string) []string {
	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	var out []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > MaxCharsPerPage {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}
