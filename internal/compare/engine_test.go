package compare

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// stubOCR returns canned text keyed by image path.
type stubOCR struct {
	texts map[string]string
	err   error
}

func (s stubOCR) ExtractText(ctx context.Context, imagePath, lang string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.texts[imagePath], nil
}

func TestEngineCompareEqualImages(t *testing.T) {
	dir := t.TempDir()
	a := writeTestPNG(t, dir, "current.png", 30, 30, white, nil)
	b := writeTestPNG(t, dir, "baseline.png", 30, 30, white, nil)
	diff := filepath.Join(dir, "diff.png")

	e := NewEngine(nil, stubOCR{texts: map[string]string{a: "same", b: "same"}}, 1.0, zap.NewNop())
	res, err := e.Compare(context.Background(), a, b, diff)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !res.Equal || res.MismatchPercent != 0 {
		t.Errorf("equal images: %+v", res)
	}
	if res.DiffPath != "" {
		t.Error("no diff artifact expected for equal images")
	}
	if _, err := os.Stat(diff); !os.IsNotExist(err) {
		t.Error("diff file should not be written for equal images")
	}
	if len(res.TextDiffs) != 0 {
		t.Errorf("unexpected text diffs: %v", res.TextDiffs)
	}
}

func TestEngineCompareWritesSideBySideDiff(t *testing.T) {
	dir := t.TempDir()
	spots := map[image.Point]color.RGBA{{X: 2, Y: 2}: black}
	a := writeTestPNG(t, dir, "current.png", 20, 20, white, spots)
	b := writeTestPNG(t, dir, "baseline.png", 20, 20, white, nil)
	diff := filepath.Join(dir, "diff.png")

	e := NewEngine(nil, stubOCR{}, 1.0, zap.NewNop())
	res, err := e.Compare(context.Background(), a, b, diff)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Equal {
		t.Fatal("images differ")
	}
	if res.MismatchPercent != 0.25 { // 1 of 400 pixels
		t.Errorf("mismatch = %v, want 0.25", res.MismatchPercent)
	}
	if res.DiffPath != diff {
		t.Errorf("diff path = %q, want %q", res.DiffPath, diff)
	}

	img, err := loadImage(diff)
	if err != nil {
		t.Fatalf("diff artifact unreadable: %v", err)
	}
	// current | baseline | diff panels side by side.
	if got, want := img.Bounds().Dx(), 60; got != want {
		t.Errorf("composite width = %d, want %d", got, want)
	}
	if got, want := img.Bounds().Dy(), 20; got != want {
		t.Errorf("composite height = %d, want %d", got, want)
	}
}

func TestEngineOCRFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	a := writeTestPNG(t, dir, "current.png", 10, 10, white, nil)
	b := writeTestPNG(t, dir, "baseline.png", 10, 10, white, nil)

	e := NewEngine(nil, stubOCR{err: errors.New("tesseract missing")}, 1.0, zap.NewNop())
	res, err := e.Compare(context.Background(), a, b, filepath.Join(dir, "diff.png"))
	if err != nil {
		t.Fatalf("OCR failure should not fail the comparison: %v", err)
	}
	if len(res.TextDiffs) != 0 {
		t.Errorf("text diffs should be skipped on OCR failure, got %v", res.TextDiffs)
	}
}

func TestEngineReportsTextDiffs(t *testing.T) {
	dir := t.TempDir()
	a := writeTestPNG(t, dir, "current.png", 10, 10, white, nil)
	b := writeTestPNG(t, dir, "baseline.png", 10, 10, white, nil)

	ocr := stubOCR{texts: map[string]string{
		a: "Welcome\nSign in",
		b: "Welcome\nLog in\nFooter",
	}}
	e := NewEngine(nil, ocr, 1.0, zap.NewNop())
	res, err := e.Compare(context.Background(), a, b, filepath.Join(dir, "diff.png"))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	want := []LineDiff{
		{LineIndex: 1, BaselineLine: "Log in", CurrentLine: "Sign in"},
		{LineIndex: 2, BaselineLine: "Footer", CurrentLine: ""},
	}
	if diff := cmp.Diff(want, res.TextDiffs); diff != "" {
		t.Errorf("text diffs mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffLines(t *testing.T) {
	if diffs := diffLines("a\nb", "a\nb"); diffs != nil {
		t.Errorf("identical text should yield nil, got %v", diffs)
	}
	diffs := diffLines("a\nb\nc", "a\nx")
	want := []LineDiff{
		{LineIndex: 1, BaselineLine: "b", CurrentLine: "x"},
		{LineIndex: 2, BaselineLine: "c", CurrentLine: ""},
	}
	if diff := cmp.Diff(want, diffs); diff != "" {
		t.Errorf("diffLines mismatch (-want +got):\n%s", diff)
	}
}
