package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ocr"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "42"})
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if len(ids) != 2 || ids[1] != 42 {
		t.Fatalf("ids = %v", ids)
	}
	for _, bad := range []string{"0", "-3", "abc"} {
		if _, err := parseIDs([]string{bad}); !errors.Is(err, errUsage) {
			t.Errorf("parseIDs(%q) = %v, want errUsage", bad, err)
		}
	}
}

func TestPrintDocuments(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	text := "Hello World"
	uploaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	printDocuments(cmd, []*document.Document{
		{ID: 1, Name: "HelloWorld.pdf", UploadedAt: uploaded, OcrText: &text},
		{ID: 2, Name: "scan.png", UploadedAt: uploaded},
	})
	got := out.String()
	for _, want := range []string{"HelloWorld.pdf", "11 chars", "scan.png", "pending", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"migrate", "list", "delete", "reprocess", "reindex", "search", "upload", "loadtest"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestSamplePDFShowsText(t *testing.T) {
	pdf := samplePDF("Load test (7) invoice")
	if !bytes.HasPrefix(pdf, []byte("%PDF-1.4\n")) || !bytes.HasSuffix(pdf, []byte("%%EOF\n")) {
		t.Fatalf("unexpected framing:\n%s", pdf)
	}
	start := bytes.Index(pdf, []byte("stream\n"))
	end := bytes.Index(pdf, []byte("\nendstream"))
	if start < 0 || end < start {
		t.Fatal("content stream not found")
	}
	if got := ocr.ShownText(pdf[start+len("stream\n") : end]); got != "Load test (7) invoice" {
		t.Fatalf("shown text = %q", got)
	}
	xref := bytes.Index(pdf, []byte("xref\n"))
	if !bytes.Contains(pdf, []byte(fmt.Sprintf("startxref\n%d\n", xref))) {
		t.Fatal("startxref does not point at the xref table")
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 50); got != 5 {
		t.Errorf("p50 = %d", got)
	}
	if got := percentile(sorted, 99); got != 10 {
		t.Errorf("p99 = %d", got)
	}
	if got := percentile(nil, 90); got != 0 {
		t.Errorf("empty p90 = %d", got)
	}
}
