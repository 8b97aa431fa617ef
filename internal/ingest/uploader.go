package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skycommit/skycommit/internal/httputil"
	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/snapshot"
)

// Uploader posts snapshot files to the oracle's upload endpoint.
type Uploader struct {
	baseURL string
	client  *http.Client
}

func NewUploader(baseURL string) *Uploader {
	return &Uploader{baseURL: baseURL, client: httputil.NewClient()}
}

// Upload sends one snapshot file as multipart/form-data. 4xx responses are
// permanent (the file is malformed or already present); 5xx and transport
// errors retry with exponential backoff, base 1s, cap 60s, five attempts.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	name := filepath.Base(path)
	kind, _, err := snapshot.ParseName(name)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/file/%s", u.baseURL, name)

	operation := func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("open %s: %w", path, err))
		}
		defer f.Close()

		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		part, err := form.CreateFormFile("file", name)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create form file: %w", err))
		}
		if _, err := io.Copy(part, f); err != nil {
			return backoff.Permanent(fmt.Errorf("read %s: %w", path, err))
		}
		if err := form.Close(); err != nil {
			return backoff.Permanent(fmt.Errorf("close form: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", form.FormDataContentType())

		resp, err := u.client.Do(req)
		if err != nil {
			metrics.SnapshotUploads.WithLabelValues(string(kind), "error").Inc()
			return fmt.Errorf("upload %s: %w", name, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.SnapshotUploads.WithLabelValues(string(kind), "ok").Inc()
			return nil
		case resp.StatusCode == http.StatusConflict:
			// The oracle already has this snapshot; done.
			metrics.SnapshotUploads.WithLabelValues(string(kind), "duplicate").Inc()
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			b, _ := io.ReadAll(resp.Body)
			metrics.SnapshotUploads.WithLabelValues(string(kind), fmt.Sprint(resp.StatusCode)).Inc()
			return backoff.Permanent(fmt.Errorf("upload %s: status %d: %s", name, resp.StatusCode, string(b)))
		default:
			metrics.SnapshotUploads.WithLabelValues(string(kind), fmt.Sprint(resp.StatusCode)).Inc()
			return fmt.Errorf("upload %s: status %d", name, resp.StatusCode)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
}
