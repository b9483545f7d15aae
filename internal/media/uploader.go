// Package media uploads profile pictures to the external image host and
// returns the hosted URL. Only the boundary matters to the session core.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrNotConfigured is returned when no upload endpoint is set.
var ErrNotConfigured = errors.New("image upload is not configured")

// File is an in-memory upload.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, f File) (string, error)
}

// HostUploader posts unsigned multipart uploads to a Cloudinary-style
// endpoint and reads secure_url (or url) from the reply.
type HostUploader struct {
	endpoint string
	preset   string
	timeout  time.Duration
}

// NewHostUploader builds an uploader. An empty endpoint yields an uploader
// that always fails with ErrNotConfigured.
func NewHostUploader(endpoint, preset string, timeout time.Duration) *HostUploader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HostUploader{endpoint: endpoint, preset: preset, timeout: timeout}
}

func (u *HostUploader) Upload(ctx context.Context, f File) (string, error) {
	if u.endpoint == "" {
		return "", ErrNotConfigured
	}
	if len(f.Content) == 0 {
		return "", errors.New("empty file")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	if u.preset != "" {
		args.Set("upload_preset", u.preset)
	}

	a := fiber.Post(u.endpoint)
	a.FileData(&fiber.FormFile{Fieldname: "file", Name: f.Name, Content: f.Content})
	a.MultipartForm(args)
	a.Timeout(u.timeout)
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return "", fmt.Errorf("upload: %w", err)
	}

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("upload: %w", errs[0])
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("upload rejected with status %d", status)
	}

	var reply struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decode upload reply: %w", err)
	}
	if reply.SecureURL != "" {
		return reply.SecureURL, nil
	}
	if reply.URL != "" {
		return reply.URL, nil
	}
	return "", errors.New("upload reply carried no url")
}
