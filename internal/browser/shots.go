package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// screenshotTaker is the capture capability a page may expose beyond
// the engine's interface.
type screenshotTaker interface {
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}

// Capturer stores full-page screenshots as PNG files under a base
// directory, one subdirectory per day.
type Capturer struct {
	dir string
	log *zap.Logger
}

func NewCapturer(dir string, log *zap.Logger) *Capturer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Capturer{dir: dir, log: log}
}

// CaptureAndStore captures p and writes the image, returning a
// reference relative to the base directory.
func (c *Capturer) CaptureAndStore(ctx context.Context, p patrol.Page) (string, error) {
	taker, ok := p.(screenshotTaker)
	if !ok {
		return "", errors.New("page does not support screenshots")
	}

	data, err := taker.Screenshot(ctx, true)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	ref := filepath.Join(time.Now().Format("2006-01-02"), uuid.NewString()+".png")
	path := filepath.Join(c.dir, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	c.log.Debug("screenshot stored", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

// Path resolves a stored reference to its absolute location.
func (c *Capturer) Path(ref string) string {
	return filepath.Join(c.dir, ref)
}
