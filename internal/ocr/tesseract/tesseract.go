// Package tesseract implements ocr.Engine with the Tesseract library through
// gosseract. Each call uses its own client, so one Engine serves concurrent
// callers.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
)

type Engine struct {
	languages    []string
	tessdataPath string
	dpi          int
	newClient    func() *gosseract.Client
}

// New builds an engine from cfg. Language defaults to "eng"; a "+" joined
// value such as "eng+deu" selects several.
func New(cfg config.OCRConfig) *Engine {
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	return &Engine{
		languages:    strings.Split(lang, "+"),
		tessdataPath: cfg.TessdataPath,
		dpi:          cfg.DPI,
		newClient:    gosseract.NewClient,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the text Tesseract finds in image. Recognition itself
// cannot be interrupted; ctx is checked before it starts.
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.newClient()
	defer c.Close()

	if e.tessdataPath != "" {
		if err := c.SetTessdataPrefix(e.tessdataPath); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if e.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.dpi)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Version reports the linked Tesseract version.
func Version() string {
	c := gosseract.NewClient()
	defer c.Close()
	return c.Version()
}
