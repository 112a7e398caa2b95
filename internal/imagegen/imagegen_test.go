package imagegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/uhwio/whatsappaibot/internal/upstream"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeDownscalesToJPEG(t *testing.T) {
	t.Parallel()

	out, err := Normalize(pngBytes(t, 400, 200), 100)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("expected 100x50, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Normalize([]byte("not an image"), 100); err == nil {
		t.Fatal("expected decode error")
	}
}

type fakeGen struct {
	data []byte
	err  error
}

func (f fakeGen) GenerateImage(context.Context, string) ([]byte, string, error) {
	return f.data, "image/png", f.err
}

type fakeRunner struct{ kind upstream.ErrorKind }

func (f fakeRunner) Do(ctx context.Context, _ string, fn func(context.Context) error) upstream.ErrorKind {
	if f.kind != upstream.KindNone {
		return f.kind
	}
	if err := fn(ctx); err != nil {
		return upstream.KindOther
	}
	return upstream.KindNone
}

type fakeUploader struct {
	mime string
	err  error
}

func (f *fakeUploader) UploadMedia(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.mime = mimeType
	if f.err != nil {
		return "", f.err
	}
	return "media-1", nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGenerateUploadsJPEG(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{}
	svc := NewService(fakeGen{data: pngBytes(t, 32, 32)}, fakeRunner{}, up, quiet())

	id, kind := svc.Generate(context.Background(), "a cat")
	if kind != upstream.KindNone || id != "media-1" {
		t.Fatalf("unexpected result %q %v", id, kind)
	}
	if up.mime != "image/jpeg" {
		t.Fatalf("expected JPEG upload, got %q", up.mime)
	}
}

func TestGeneratePropagatesRateLimit(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{}
	svc := NewService(fakeGen{}, fakeRunner{kind: upstream.KindRateLimit}, up, quiet())

	if _, kind := svc.Generate(context.Background(), "a cat"); kind != upstream.KindRateLimit {
		t.Fatalf("expected rate limit, got %v", kind)
	}
	if up.mime != "" {
		t.Fatal("nothing must be uploaded")
	}
}

func TestGenerateUploadFailure(t *testing.T) {
	t.Parallel()

	svc := NewService(fakeGen{data: pngBytes(t, 8, 8)}, fakeRunner{}, &fakeUploader{err: errors.New("401")}, quiet())
	if _, kind := svc.Generate(context.Background(), "x"); kind != upstream.KindOther {
		t.Fatalf("expected KindOther, got %v", kind)
	}
}
