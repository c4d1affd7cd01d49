// Package visual implements screenshot comparison against stored
// baselines: per URL+device baseline images, pixel-level diffing, and
// diff image generation for flagged pages.
package visual

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// channelTolerance ignores sub-perceptual color jitter from
// compression and font rendering.
const channelTolerance = 10

// Comparer implements patrol.VisualComparer on a directory layout:
// baselines/<key>.png holds the reference image, diffs/ the generated
// overlays. Screenshot refs resolve against the capture directory.
type Comparer struct {
	shotsDir string
	baseDir  string
	log      *zap.Logger
}

func NewComparer(shotsDir, baseDir string, log *zap.Logger) *Comparer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Comparer{shotsDir: shotsDir, baseDir: baseDir, log: log}
}

// Compare diffs the referenced screenshot against the baseline for
// (url, device). A missing baseline is adopted, not flagged: the first
// patrol of a page establishes the reference.
func (c *Comparer) Compare(_ context.Context, screenshotRef, url string, dev patrol.DeviceType, policy patrol.VisualPolicy) (*patrol.VisualDiff, error) {
	shotPath := filepath.Join(c.shotsDir, screenshotRef)
	shot, err := loadPNG(shotPath)
	if err != nil {
		return nil, fmt.Errorf("load screenshot %s: %w", screenshotRef, err)
	}

	key := baselineKey(url, dev)
	baselinePath := filepath.Join(c.baseDir, "baselines", key)

	baseline, err := loadPNG(baselinePath)
	if os.IsNotExist(err) {
		if err := copyFile(shotPath, baselinePath); err != nil {
			return nil, fmt.Errorf("adopt baseline: %w", err)
		}
		c.log.Info("baseline adopted", zap.String("url", url), zap.String("key", key))
		return &patrol.VisualDiff{BaselineRef: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline %s: %w", key, err)
	}

	diff := &patrol.VisualDiff{BaselineRef: key}

	if !shot.Bounds().Eq(baseline.Bounds()) {
		diff.HasDifference = true
		diff.DiffPercentage = 100
	} else {
		pct, diffImg := diffImages(baseline, shot)
		diff.DiffPercentage = pct
		diff.HasDifference = pct > policy.Threshold()
		if diff.HasDifference {
			ref := filepath.Join("diffs", key)
			if err := writePNG(filepath.Join(c.baseDir, ref), diffImg); err != nil {
				c.log.Warn("write diff image failed", zap.String("url", url), zap.Error(err))
			} else {
				diff.DiffImageRef = ref
			}
		}
	}

	if policy.SaveBaseline {
		if err := copyFile(shotPath, baselinePath); err != nil {
			c.log.Warn("update baseline failed", zap.String("url", url), zap.Error(err))
		}
	}
	return diff, nil
}

// baselineKey derives a stable filename from the URL and device.
func baselineKey(url string, dev patrol.DeviceType) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s_%s.png", hex.EncodeToString(sum[:8]), dev)
}

// diffImages counts differing pixels and paints them red on a dimmed
// copy of the baseline.
func diffImages(baseline, shot image.Image) (float64, image.Image) {
	bounds := baseline.Bounds()
	out := image.NewRGBA(bounds)
	total := bounds.Dx() * bounds.Dy()
	differing := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := color.RGBAModel.Convert(baseline.At(x, y)).(color.RGBA)
			b := color.RGBAModel.Convert(shot.At(x, y)).(color.RGBA)
			if pixelDiffers(a, b) {
				differing++
				out.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			} else {
				out.SetRGBA(x, y, color.RGBA{R: a.R / 3, G: a.G / 3, B: a.B / 3, A: 255})
			}
		}
	}

	if total == 0 {
		return 0, out
	}
	return float64(differing) / float64(total) * 100, out
}

func pixelDiffers(a, b color.RGBA) bool {
	return absDelta(a.R, b.R) > channelTolerance ||
		absDelta(a.G, b.G) > channelTolerance ||
		absDelta(a.B, b.B) > channelTolerance
}

func absDelta(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
