package compare

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TextExtractor pulls text out of an image for the informational text diff.
type TextExtractor interface {
	ExtractText(ctx context.Context, imagePath, lang string) (string, error)
}

// TesseractExtractor shells out to the tesseract CLI. stdout mode avoids
// temp-file bookkeeping.
type TesseractExtractor struct {
	// Bin overrides the tesseract binary path. Empty means $PATH lookup.
	Bin string
}

// ExtractText runs OCR over the image with the given language hint.
func (t TesseractExtractor) ExtractText(ctx context.Context, imagePath, lang string) (string, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("image file not found: %s", imagePath)
	}
	bin := t.Bin
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, imagePath, "stdout", "-l", lang)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
