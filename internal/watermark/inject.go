package watermark

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/surface"
)

// Injector resolves watermark specs into overlays. One per job.
type Injector struct {
	raster *Rasterizer
	cache  *Cache
	log    *logrus.Entry
}

func NewInjector(fonts []string, log *logrus.Entry) *Injector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Injector{
		raster: NewRasterizer(fonts),
		cache:  NewCache(),
		log:    log.WithField("component", "watermark"),
	}
}

// Overlay builds the overlay for spec. ok is false when nothing should be drawn,
// including an image watermark whose file is missing.
func (in *Injector) Overlay(spec Spec) (surface.Overlay, bool, error) {
	if !spec.Active() {
		return surface.Overlay{}, false, nil
	}

	var png []byte
	var err error
	switch spec.Kind {
	case KindText:
		key := Key(spec.Content, spec.Size, spec.Opacity)
		png, err = in.cache.GetOrCreate(key, func() ([]byte, error) {
			return in.raster.Render(spec.Content, spec.Size)
		})
	case KindImage:
		if _, statErr := os.Stat(spec.Content); statErr != nil {
			in.log.WithError(statErr).WithField("path", spec.Content).Warn("watermark image not found, watermark disabled")
			return surface.Overlay{}, false, nil
		}
		png, err = in.cache.GetOrCreate("image\x00"+spec.Content, func() ([]byte, error) {
			return LoadImage(spec.Content)
		})
	case KindQR:
		png, err = in.cache.GetOrCreate("qr\x00"+spec.Content, func() ([]byte, error) {
			return QR(spec.Content)
		})
	default:
		return surface.Overlay{}, false, fmt.Errorf("unknown watermark kind %q", spec.Kind)
	}
	if err != nil {
		return surface.Overlay{}, false, fmt.Errorf("watermark %s: %w", spec.Kind, err)
	}

	return surface.Overlay{
		DataURI:  DataURI(png),
		Position: spec.Position,
		Opacity:  spec.Opacity,
		HeightVH: spec.heightVH(),
	}, true, nil
}

// Inject appends the overlay to the page. A watermark that cannot be built or
// injected is logged and skipped; capture proceeds without it.
func (in *Injector) Inject(ctx context.Context, s surface.Surface, spec Spec) (bool, error) {
	o, ok, err := in.Overlay(spec)
	if err != nil {
		in.log.WithError(err).Warn("watermark skipped")
		return false, nil
	}
	if !ok {
		return false, nil
	}
	if err := s.InjectOverlay(ctx, o); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		in.log.WithError(err).Warn("watermark injection failed")
		return false, nil
	}
	in.log.WithFields(logrus.Fields{
		"kind":     spec.Kind,
		"position": spec.Position,
		"height":   fmt.Sprintf("%.1fvh", o.HeightVH),
	}).Info("watermark injected")
	return true, nil
}

// Cache exposes the job-scoped overlay cache.
func (in *Injector) Cache() *Cache { return in.cache }

func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
