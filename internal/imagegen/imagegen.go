// Package imagegen generates an image for a prompt and uploads it as
// WhatsApp media.
package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"log/slog"

	"github.com/uhwio/whatsappaibot/internal/upstream"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// DefaultMaxDim keeps uploads well under the Cloud API image size limit.
	DefaultMaxDim = 1600
	// MaxUploadBytes is the Cloud API limit for images.
	MaxUploadBytes = 5 << 20
)

// Generator produces raw image bytes for a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}

// Uploader stores bytes as media and returns the media id.
type Uploader interface {
	UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Runner executes an upstream operation under retry and breaker protection.
type Runner interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) upstream.ErrorKind
}

// Service ties generation, normalisation and upload together.
type Service struct {
	gen      Generator
	runner   Runner
	uploader Uploader
	maxDim   int
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(gen Generator, runner Runner, uploader Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, runner: runner, uploader: uploader, maxDim: DefaultMaxDim, logger: logger}
}

// Generate creates an image for prompt and returns its uploaded media id.
func (s *Service) Generate(ctx context.Context, prompt string) (string, upstream.ErrorKind) {
	var raw []byte
	kind := s.runner.Do(ctx, "generate_image", func(ctx context.Context) error {
		data, _, err := s.gen.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}
		raw = data
		return nil
	})
	if kind != upstream.KindNone {
		return "", kind
	}

	jpg, err := Normalize(raw, s.maxDim)
	if err != nil {
		s.logger.Warn("generated image could not be normalised", "error", err)
		return "", upstream.KindOther
	}
	mediaID, err := s.uploader.UploadMedia(ctx, jpg, "image/jpeg")
	if err != nil {
		s.logger.Warn("image upload failed", "error", err)
		return "", upstream.KindOther
	}
	return mediaID, upstream.KindNone
}

// Normalize decodes PNG, JPEG, GIF or WebP, scales the longest side down to
// maxDim and re-encodes as JPEG small enough to upload.
func Normalize(data []byte, maxDim int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxDim > 0 && (width > maxDim || height > maxDim) {
		var newW, newH int
		if width > height {
			newW = maxDim
			newH = (height * maxDim) / width
		} else {
			newH = maxDim
			newW = (width * maxDim) / height
		}
		if newW == 0 {
			newW = 1
		}
		if newH == 0 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	for quality := 85; quality >= 40; quality -= 15 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		if buf.Len() <= MaxUploadBytes {
			return buf.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("image exceeds %d bytes after compression", MaxUploadBytes)
}
