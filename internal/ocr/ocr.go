// Package ocr turns stored document content into plain text. Images go
// straight to the recognition Engine; PDFs contribute the text recognised in
// their embedded page images, falling back to the text drawn by the page
// content streams when the images yield nothing.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
)

// Engine recognises text in one encoded image (PNG, JPEG or TIFF).
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
}

// PageImage is one image embedded in a PDF page.
type PageImage struct {
	Page     int
	Name     string
	FileType string
	Data     []byte
}

// PDFSource pulls the pieces of a PDF the extractor reads.
type PDFSource interface {
	Images(ctx context.Context, pdf []byte) ([]PageImage, error)
	ContentStreams(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Extractor dispatches content to the right extraction path by file kind.
type Extractor struct {
	engine Engine
	pdf    PDFSource
	logger *slog.Logger
}

func NewExtractor(engine Engine, pdf PDFSource) *Extractor {
	return &Extractor{
		engine: engine,
		pdf:    pdf,
		logger: slog.Default().With("component", "ocr-extractor", "engine", engine.Name()),
	}
}

// Supported reports whether name has an extension the extractor handles.
func Supported(name string) bool {
	return document.KindOf(name) != document.KindUnsupported
}

// Extract returns the trimmed text of content. It fails with
// ErrUnsupportedFormat for unknown kinds, ErrEmptyResult when nothing was
// recognised and ErrOcr for engine or parse failures.
func (e *Extractor) Extract(ctx context.Context, name string, content []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch kind := document.KindOf(name); kind {
	case document.KindImage:
		text, err = e.engine.Recognize(ctx, content)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrOcr, err, "recognising "+name)
		}
	case document.KindPDF:
		text, err = e.extractPDF(ctx, name, content)
		if err != nil {
			return "", err
		}
	default:
		return "", apperrors.Newf(apperrors.ErrUnsupportedFormat, "cannot extract text from %q", name)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.Newf(apperrors.ErrEmptyResult, "no text found in %q", name)
	}
	return text, nil
}

func (e *Extractor) extractPDF(ctx context.Context, name string, content []byte) (string, error) {
	images, err := e.pdf.Images(ctx, content)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrOcr, err, "reading images of "+name)
	}

	pages := make(map[int][]string)
	order := make([]int, 0)
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.engine.Recognize(ctx, img.Data)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrOcr, err,
				fmt.Sprintf("recognising image %s on page %d of %s", img.Name, img.Page, name))
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, seen := pages[img.Page]; !seen {
			order = append(order, img.Page)
		}
		pages[img.Page] = append(pages[img.Page], text)
	}
	if len(order) > 0 {
		out := make([]string, 0, len(order))
		for _, page := range order {
			out = append(out, strings.Join(pages[page], "\n"))
		}
		e.logger.Debug("pdf text recognised from images", "name", name, "images", len(images), "pages", len(order))
		return strings.Join(out, "\n"), nil
	}

	streams, err := e.pdf.ContentStreams(ctx, content)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrOcr, err, "reading content of "+name)
	}
	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		if text := strings.TrimSpace(ShownText(stream)); text != "" {
			out = append(out, text)
		}
	}
	e.logger.Debug("pdf text read from content streams", "name", name, "pages", len(streams), "with_text", len(out))
	return strings.Join(out, "\n"), nil
}
