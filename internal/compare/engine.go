// Package compare quantifies and localizes the difference between a fresh
// capture and its baseline. Two independent comparisons run and their
// results are combined, not reconciled: the pixel comparison produces the
// numeric mismatch score, the OCR text comparison is informational only.
package compare

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LineDiff is one baseline/current text divergence at a given line index.
type LineDiff struct {
	LineIndex    int    `json:"line_index"`
	BaselineLine string `json:"baseline_line"`
	CurrentLine  string `json:"current_line"`
}

// Result is the combined outcome of one comparison.
type Result struct {
	// MismatchPercent = round(DifferentPixels/TotalPixels*100, 2), in
	// [0,100]. Degrades to 0 when pixel counts are unavailable; that means
	// "no evidence of difference", not "pass".
	MismatchPercent float64    `json:"mismatch_percent"`
	DifferentPixels int        `json:"different_pixels"`
	TotalPixels     int        `json:"total_pixels"`
	Equal           bool       `json:"equal"`
	DiffPath        string     `json:"diff_path,omitempty"` // set when not equal
	TextDiffs       []LineDiff `json:"text_diffs,omitempty"`
}

// Engine runs the comparison pipeline over image files.
type Engine struct {
	pixels  PixelComparer
	ocr     TextExtractor
	opts    PixelOptions
	ocrLang string
	logger  *zap.Logger
}

// NewEngine builds an engine with the given providers. Nil providers fall
// back to the built-in implementations.
func NewEngine(pixels PixelComparer, ocr TextExtractor, tolerance float64, logger *zap.Logger) *Engine {
	if pixels == nil {
		pixels = NewPixelComparer()
	}
	if ocr == nil {
		ocr = TesseractExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pixels:  pixels,
		ocr:     ocr,
		opts:    DefaultPixelOptions(tolerance),
		ocrLang: "eng",
		logger:  logger.Named("compare"),
	}
}

// Compare runs the pixel and text comparisons between currentPath and
// baselinePath. When the images are unequal the rendered diff is persisted
// to diffPath and composed side by side with both sources.
//
// OCR trouble never fails the call: the text diff is an attachment, not a
// gate. Pixel comparison errors do propagate.
func (e *Engine) Compare(ctx context.Context, currentPath, baselinePath, diffPath string) (*Result, error) {
	var currentText, baselineText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		currentText, err = e.ocr.ExtractText(gctx, currentPath, e.ocrLang)
		return err
	})
	g.Go(func() error {
		var err error
		baselineText, err = e.ocr.ExtractText(gctx, baselinePath, e.ocrLang)
		return err
	})
	var textDiffs []LineDiff
	if err := g.Wait(); err != nil {
		e.logger.Warn("Text extraction failed, skipping text diff", zap.Error(err))
	} else {
		textDiffs = diffLines(baselineText, currentText)
		if len(textDiffs) > 0 {
			e.logger.Info("Text differences found", zap.Int("lines", len(textDiffs)))
		}
	}

	pixelRes, err := e.pixels.Compare(currentPath, baselinePath, e.opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		DifferentPixels: pixelRes.DifferentPixels,
		TotalPixels:     pixelRes.TotalPixels,
		Equal:           pixelRes.Equal,
		TextDiffs:       textDiffs,
	}

	if pixelRes.TotalPixels <= 0 {
		// Degenerate comparison: no usable pixel counts. Report zero rather
		// than blocking the pipeline.
		e.logger.Warn("Pixel comparison produced no usable counts, treating as no differences")
		res.MismatchPercent = 0
		return res, nil
	}

	res.MismatchPercent = RoundPercent(pixelRes.DifferentPixels, pixelRes.TotalPixels)
	e.logger.Info("Pixel comparison complete",
		zap.Int("different", pixelRes.DifferentPixels),
		zap.Int("total", pixelRes.TotalPixels),
		zap.Float64("mismatch_percent", res.MismatchPercent),
		zap.Int("clusters", len(pixelRes.Clusters)))

	if !pixelRes.Equal && pixelRes.DiffImage != nil {
		if err := writePNG(diffPath, pixelRes.DiffImage); err != nil {
			return nil, err
		}
		if err := composeSideBySide(currentPath, baselinePath, pixelRes.DiffImage, diffPath); err != nil {
			return nil, err
		}
		res.DiffPath = diffPath
	}
	return res, nil
}

// RoundPercent computes round(different/total*100, 2).
func RoundPercent(different, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(different)/float64(total)*100*100) / 100
}

// diffLines produces the line-indexed baseline-vs-current diff. Baseline
// drives the iteration; a shorter current text reports empty current lines.
func diffLines(baselineText, currentText string) []LineDiff {
	if baselineText == currentText {
		return nil
	}
	baselineLines := strings.Split(baselineText, "\n")
	currentLines := strings.Split(currentText, "\n")

	var diffs []LineDiff
	for i, line := range baselineLines {
		current := ""
		if i < len(currentLines) {
			current = currentLines[i]
		}
		if line != current {
			diffs = append(diffs, LineDiff{LineIndex: i, BaselineLine: line, CurrentLine: current})
		}
	}
	return diffs
}
