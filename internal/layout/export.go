package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/jonathan/storybook-agent/internal/types"
)

// pageTemplate renders one book page as a standalone HTML document.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}} - page {{.Page.Number}}</title></head>
<body class="book-page {{.Page.Kind}}">
{{if .Page.ImageURL}}<figure><img src="{{.Page.ImageURL}}" alt="Illustration for chapter {{.Page.Chapter}}"></figure>{{end}}
{{if .Page.Text}}<section class="page-text">{{range .Paragraphs}}<p>{{.}}</p>{{end}}</section>{{end}}
<footer>{{.Page.Number}}</footer>
</body>
</html>
`))

type pageData struct {
	Title      string
	Page       types.Page
	Paragraphs []string
}

// bundle is the top-level document written to book.json.
type bundle struct {
	Project *types.Project `json:"project"`
	Layout  types.Layout   `json:"layout"`
}

// Export writes the book bundle into dir: a book.json document plus one
// HTML file per page. It returns the manifest of files written.
func Export(dir string, project *types.Project, lay types.Layout) (*types.ExportManifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ExportError{Path: dir, Message: "failed to create output directory", Cause: err}
	}

	manifest := &types.ExportManifest{}

	data, err := json.MarshalIndent(bundle{Project: project, Layout: lay}, "", "  ")
	if err != nil {
		return nil, &ExportError{Path: dir, Message: "failed to encode book bundle", Cause: err}
	}
	if err := writeManifestFile(manifest, filepath.Join(dir, "book.json"), "bundle", data); err != nil {
		return nil, err
	}

	for _, page := range lay.Pages {
		var buf bytes.Buffer
		pd := pageData{Title: project.Title, Page: page, Paragraphs: splitParagraphs(page.Text)}
		if err := pageTemplate.Execute(&buf, pd); err != nil {
			return nil, &ExportError{Path: dir, Message: fmt.Sprintf("failed to render page %d", page.Number), Cause: err}
		}
		name := fmt.Sprintf("page-%03d.html", page.Number)
		if err := writeManifestFile(manifest, filepath.Join(dir, name), "page", buf.Bytes()); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func writeManifestFile(manifest *types.ExportManifest, path, kind string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &ExportError{Path: path, Message: "failed to write file", Cause: err}
	}
	manifest.Files = append(manifest.Files, types.ExportedFile{Path: path, Kind: kind, Bytes: len(data)})
	return nil
}

func splitParagraphs(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, p := range bytes.Split([]byte(text), []byte("\n\n")) {
		if t := bytes.TrimSpace(p); len(t) > 0 {
			out = append(out, string(t))
		}
	}
	return out
}
