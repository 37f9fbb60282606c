// Package storage uploads diff artifacts to Supabase object storage so
// failed-verdict records can reference a public URL. Uploads are
// best-effort: a storage outage degrades the record, it never fails the
// run.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"pixelwatch/internal/config"

	"go.uber.org/zap"
)

// Uploader pushes files into a Supabase storage bucket.
type Uploader struct {
	url        string
	token      string
	bucket     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewUploader builds an uploader from config. A nil return means storage is
// not configured and uploads should be skipped.
func NewUploader(cfg config.StorageConfig, logger *zap.Logger) *Uploader {
	if cfg.URL == "" || cfg.Token == "" || cfg.Bucket == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		url:        strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		bucket:     cfg.Bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Named("storage"),
	}
}

// Upload writes the file at filePath to the bucket under key, replacing any
// existing object at that key.
func (u *Uploader) Upload(ctx context.Context, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}

	key = strings.TrimLeft(key, "/")
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.url, u.bucket, key)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("x-upsert", "true")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload %s failed with status %d: %s", key, resp.StatusCode, string(body))
	}

	u.logger.Info("Uploaded artifact", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
