package screen

import (
	"log/slog"

	"github.com/jnjlab/warok/internal/ui"
)

const (
	// blackRatio is the fraction of probed content-area pixels that must sit
	// within the dark reference color before the screen counts as black.
	blackRatio = 0.8
	// blackStep is the probing stride over the content area.
	blackStep = 5
	// contentSpread is the minimum per-channel color range across the content
	// area for the surface to count as showing content at all.
	contentSpread = 24
)

// Classifier derives one State from pixel evidence. The checks run in fixed
// priority order with short-circuit on the first positive match; see State
// for the ordering rationale. A check whose region is missing from the
// definition set, or whose region falls outside the frame bounds, is skipped
// as indeterminate rather than failing the whole pass.
type Classifier struct {
	logger *slog.Logger
}

func NewClassifier(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify is deterministic and side-effect free: the same frame and config
// always produce the same state.
func (c *Classifier) Classify(f Frame, cfg ui.Config) State {
	if f.Empty() {
		return StateEmpty
	}

	// Lock outranks black: the lock glyph is drawn over an otherwise dark
	// surface, so a frame satisfying both conditions is a lock screen.
	if matched, determinate := c.regionMatches(f, cfg, ui.RegionLockIndicator); determinate && matched {
		return StateLock
	}

	if region, ok := cfg.Region(ui.RegionContentArea); ok {
		if ratio, determinate := RegionMatchRatio(f, region, blackStep); determinate && ratio >= blackRatio {
			c.logger.Debug("content area uniformly dark", slog.Float64("ratio", ratio))
			return StateBlack
		}
	}

	// The interstitial marker sits above the generic loading fallback for the
	// same subset-outranks-superset reason lock sits above black: a
	// notifications screen also has "content but no landmarks", and waiting
	// it out never converges. Recognize it first, dismiss it every time.
	if matched, determinate := c.regionMatches(f, cfg, ui.RegionNotificationPanel); determinate && matched {
		return StateInterstitial
	}

	if loaded, determinate := c.landmarksPresent(f, cfg); determinate && loaded {
		return StateLoaded
	}

	// Content is on screen but the loaded conjunction failed: still loading.
	// A flat single-color surface carries no content signal and falls through
	// to unknown instead.
	if region, ok := cfg.Region(ui.RegionContentArea); ok {
		if spread, determinate := RegionColorSpread(f, region, blackStep); determinate && spread >= contentSpread {
			return StateLoading
		}
	}

	return StateUnknown
}

// regionMatches samples a named region and compares it against its expected
// color. determinate is false when the region is undefined or out of bounds.
func (c *Classifier) regionMatches(f Frame, cfg ui.Config, name string) (matched, determinate bool) {
	region, ok := cfg.Region(name)
	if !ok {
		c.logger.Debug("region not defined, check skipped", slog.String("region", name))
		return false, false
	}

	sampled, inBounds := SampleRegion(f, region)
	if !inBounds {
		c.logger.Debug("region outside frame bounds, check skipped", slog.String("region", name))
		return false, false
	}

	return sampled.Within(region.ExpectedColor, region.Tolerance), true
}

// landmarksPresent implements the loaded conjunction: the store icon AND
// every declared app icon must independently match. One absent landmark
// demotes the frame to the loading fallback.
func (c *Classifier) landmarksPresent(f Frame, cfg ui.Config) (loaded, determinate bool) {
	store, ok := cfg.Region(ui.RegionStoreIcon)
	if !ok {
		return false, false
	}

	icons := cfg.AppIconRegions()
	if len(icons) == 0 {
		// A home screen with no app icon landmarks declared cannot be
		// positively confirmed.
		return false, false
	}

	for _, region := range append([]ui.Region{store}, icons...) {
		sampled, inBounds := SampleRegion(f, region)
		if !inBounds || !sampled.Within(region.ExpectedColor, region.Tolerance) {
			return false, true
		}
	}

	return true, true
}
