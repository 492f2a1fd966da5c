package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var contentPage = regexp.MustCompile(`_(\d+)\.txt$`)

// PDFCPU reads PDFs with pdfcpu in relaxed validation mode, so scanner
// output with minor structural defects still yields its pages.
type PDFCPU struct {
	conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{conf: conf}
}

// Images returns every embedded image ordered by page.
func (p *PDFCPU) Images(ctx context.Context, pdf []byte) ([]PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, err := api.ExtractImagesRaw(bytes.NewReader(pdf), nil, p.conf)
	if err != nil {
		return nil, fmt.Errorf("extracting images: %w", err)
	}
	var out []PageImage
	for _, images := range pages {
		for _, img := range images {
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("reading image %s on page %d: %w", img.Name, img.PageNr, err)
			}
			out = append(out, PageImage{
				Page:     img.PageNr,
				Name:     img.Name,
				FileType: img.FileType,
				Data:     data,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ContentStreams returns the decoded content stream of each page in page
// order. pdfcpu writes them to disk, so they pass through a temp dir.
func (p *PDFCPU) ContentStreams(ctx context.Context, pdf []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "pdf-content-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractContent(bytes.NewReader(pdf), dir, "doc", nil, p.conf); err != nil {
		return nil, fmt.Errorf("extracting content: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing extracted content: %w", err)
	}

	type pageFile struct {
		page int
		path string
	}
	files := make([]pageFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		page := 0
		if m := contentPage.FindStringSubmatch(entry.Name()); m != nil {
			page, _ = strconv.Atoi(m[1])
		}
		files = append(files, pageFile{page: page, path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].page != files[j].page {
			return files[i].page < files[j].page
		}
		return files[i].path < files[j].path
	})

	streams := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(f.path), err)
		}
		streams = append(streams, data)
	}
	return streams, nil
}
