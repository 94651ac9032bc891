package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Upload stores r at bucket/objectPath.
func (c *Client) Upload(ctx context.Context, bucket, objectPath, contentType string, r io.Reader) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, strings.TrimPrefix(objectPath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	_, err = c.send(req)
	return err
}

// UploadFile uploads a local file and returns its public URL.
func (c *Client) UploadFile(ctx context.Context, bucket, objectPath, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		c.logger.Debug("uploading object", "bucket", bucket, "path", objectPath, "size", humanize.Bytes(uint64(info.Size())))
	}

	if err := c.Upload(ctx, bucket, objectPath, contentTypeFor(localPath), f); err != nil {
		return "", err
	}
	return c.PublicURL(bucket, objectPath), nil
}

// PublicURL returns the public URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, strings.TrimPrefix(objectPath, "/"))
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
