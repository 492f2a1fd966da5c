package ocr

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/errors"
)

type stubEngine struct {
	text  map[string]string
	err   error
	calls int
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text[string(image)], nil
}

type stubPDF struct {
	images  []PageImage
	streams [][]byte
	err     error
}

func (s *stubPDF) Images(ctx context.Context, pdf []byte) ([]PageImage, error) {
	return s.images, s.err
}

func (s *stubPDF) ContentStreams(ctx context.Context, pdf []byte) ([][]byte, error) {
	return s.streams, s.err
}

func TestExtractImage(t *testing.T) {
	engine := &stubEngine{text: map[string]string{"png-bytes": "  Hello World \n"}}
	x := NewExtractor(engine, &stubPDF{})

	text, err := x.Extract(context.Background(), "scan.PNG", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "Hello World" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractUnsupportedSkipsEngine(t *testing.T) {
	engine := &stubEngine{}
	x := NewExtractor(engine, &stubPDF{})

	_, err := x.Extract(context.Background(), "notes.docx", []byte("PK"))
	if !errors.Is(err, apperrors.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrOcr) {
		t.Fatal("unsupported format should also match ErrOcr")
	}
	if engine.calls != 0 {
		t.Fatalf("engine called %d times", engine.calls)
	}
	if Supported("notes.docx") || !Supported("a.jpeg") {
		t.Fatal("Supported disagrees with the extractor")
	}
}

func TestExtractEmptyResult(t *testing.T) {
	x := NewExtractor(&stubEngine{text: map[string]string{}}, &stubPDF{})
	_, err := x.Extract(context.Background(), "blank.jpg", []byte("white"))
	if !errors.Is(err, apperrors.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestExtractEngineFailure(t *testing.T) {
	x := NewExtractor(&stubEngine{err: errors.New("leptonica: bad image")}, &stubPDF{})
	_, err := x.Extract(context.Background(), "a.png", []byte("x"))
	if !errors.Is(err, apperrors.ErrOcr) || errors.Is(err, apperrors.ErrEmptyResult) {
		t.Fatalf("expected plain ErrOcr, got %v", err)
	}
}

func TestExtractPDFJoinsPagesFromImages(t *testing.T) {
	engine := &stubEngine{text: map[string]string{
		"p1a": "Hello",
		"p1b": "World",
		"p2":  "Page two",
		"p3":  "   ",
	}}
	pdf := &stubPDF{images: []PageImage{
		{Page: 1, Name: "Im0", Data: []byte("p1a")},
		{Page: 1, Name: "Im1", Data: []byte("p1b")},
		{Page: 2, Name: "Im0", Data: []byte("p2")},
		{Page: 3, Name: "Im0", Data: []byte("p3")},
	}}
	x := NewExtractor(engine, pdf)

	text, err := x.Extract(context.Background(), "HelloWorld.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "Hello\nWorld\nPage two" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractPDFFallsBackToContentStreams(t *testing.T) {
	pdf := &stubPDF{streams: [][]byte{
		[]byte("BT /F1 24 Tf 72 700 Td (Hello World) Tj ET"),
		[]byte("BT /F1 12 Tf [(Sec)10(ond)-300(page)] TJ ET"),
	}}
	x := NewExtractor(&stubEngine{}, pdf)

	text, err := x.Extract(context.Background(), "HelloWorld.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "Hello World\nSecond page" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractPDFWithoutTextIsEmpty(t *testing.T) {
	pdf := &stubPDF{streams: [][]byte{[]byte("q 1 0 0 1 0 0 cm Q")}}
	x := NewExtractor(&stubEngine{}, pdf)
	_, err := x.Extract(context.Background(), "scan.pdf", []byte("%PDF"))
	if !errors.Is(err, apperrors.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestExtractPDFReadFailure(t *testing.T) {
	x := NewExtractor(&stubEngine{}, &stubPDF{err: errors.New("xref table corrupt")})
	_, err := x.Extract(context.Background(), "broken.pdf", []byte("%PDF"))
	if !errors.Is(err, apperrors.ErrOcr) {
		t.Fatalf("expected ErrOcr, got %v", err)
	}
}
