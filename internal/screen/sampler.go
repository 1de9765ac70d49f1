package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/jnjlab/warok/internal/metrics"
)

// ErrCaptureTimeout marks a screenshot that did not complete within the
// configured bound. Callers treat it as transient and retry on the next
// cycle instead of failing the recovery attempt.
var ErrCaptureTimeout = errors.New("screen capture timed out")

// Capturer produces a raw screenshot of the controlled surface.
type Capturer interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// Sampler wraps a Capturer with a capture deadline and stamps frames.
type Sampler struct {
	capturer Capturer
	timeout  time.Duration
}

func NewSampler(capturer Capturer, timeout time.Duration) *Sampler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sampler{capturer: capturer, timeout: timeout}
}

// Capture blocks until a screenshot is available or the capture deadline
// expires, in which case it fails with ErrCaptureTimeout.
func (s *Sampler) Capture(ctx context.Context) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	img, err := s.capturer.Screenshot(ctx)
	metrics.CaptureLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Frame{}, fmt.Errorf("%w after %s", ErrCaptureTimeout, s.timeout)
		}
		return Frame{}, fmt.Errorf("capturing screen: %w", err)
	}

	return Frame{Img: img, At: time.Now()}, nil
}
