package pdfveil

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config carries the engine's tunable constants. The width and size
// tolerances were tuned against a specific base font; keep them
// adjustable when changing fonts.
type Config struct {
	// FontDir holds generated pair fonts and the metrics sidecar.
	FontDir string `validate:"required"`

	// BaseFontPath is the font pair fonts are subset from. Required
	// only for glyph-attack modes.
	BaseFontPath string

	// WidthTolerance is the rendered-width drift, in points, an inline
	// rewrite may introduce before the merger isolates instead.
	WidthTolerance float64 `validate:"gte=0"`

	// SizeClampRatio bounds per-glyph size adjustment when composing
	// pair-font text.
	SizeClampRatio float64 `validate:"gte=0,lte=0.2"`

	// FallbackWidthRatio estimates a character's advance as a fraction
	// of the font size when no metrics are available.
	FallbackWidthRatio float64 `validate:"gt=0,lte=1"`

	// DiagnosticDPI is the raster resolution for debug renders.
	DiagnosticDPI int `validate:"gte=0"`
}

// NewDefaultConfig returns the tuned defaults.
func NewDefaultConfig(fontDir string) Config {
	return Config{
		FontDir:            fontDir,
		WidthTolerance:     0.5,
		SizeClampRatio:     0.02,
		FallbackWidthRatio: 0.5,
		DiagnosticDPI:      150,
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
