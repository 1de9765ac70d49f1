package screen

import (
	"image"
	"time"

	"github.com/jnjlab/warok/internal/ui"
)

// Frame is one immutable screenshot of the controlled surface. Every region
// query during a classification pass runs against the same Frame, so a pass
// sees a single consistent snapshot instead of one capture per query.
type Frame struct {
	Img image.Image
	At  time.Time
}

// Empty reports whether the surface produced no pixels at all. The emulator
// can report itself running before it has composited a first frame.
func (f Frame) Empty() bool {
	if f.Img == nil {
		return true
	}
	b := f.Img.Bounds()
	return b.Dx() <= 0 || b.Dy() <= 0
}

// SampleRegion averages the pixels of the region within the frame. The second
// return value is false when the frame is empty or the region falls partly or
// fully outside the frame bounds; the caller treats that as indeterminate
// rather than an out-of-bounds fault.
func SampleRegion(f Frame, r ui.Region) (ui.Color, bool) {
	if f.Empty() || r.Width <= 0 || r.Height <= 0 {
		return ui.Color{}, false
	}

	b := f.Img.Bounds()
	if r.X < b.Min.X || r.Y < b.Min.Y || r.X+r.Width > b.Max.X || r.Y+r.Height > b.Max.Y {
		return ui.Color{}, false
	}

	var sumR, sumG, sumB uint64
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			cr, cg, cb, _ := f.Img.At(x, y).RGBA()
			sumR += uint64(cr >> 8)
			sumG += uint64(cg >> 8)
			sumB += uint64(cb >> 8)
		}
	}

	n := uint64(r.Width * r.Height)
	return ui.Color{
		R: uint8(sumR / n),
		G: uint8(sumG / n),
		B: uint8(sumB / n),
	}, true
}

// RegionMatchRatio samples the region pixel by pixel and returns the fraction
// of pixels whose color is within the region's tolerance of its expected
// color. Used for checks that require uniformity (a blank content area) where
// an average alone could hide a half-rendered screen. The step controls the
// sampling stride; larger regions are probed on a grid rather than
// exhaustively, mirroring the original detection procedure.
func RegionMatchRatio(f Frame, r ui.Region, step int) (float64, bool) {
	if f.Empty() || r.Width <= 0 || r.Height <= 0 {
		return 0, false
	}
	if step < 1 {
		step = 1
	}

	b := f.Img.Bounds()
	if r.X < b.Min.X || r.Y < b.Min.Y || r.X+r.Width > b.Max.X || r.Y+r.Height > b.Max.Y {
		return 0, false
	}

	matched, total := 0, 0
	for y := r.Y; y < r.Y+r.Height; y += step {
		for x := r.X; x < r.X+r.Width; x += step {
			cr, cg, cb, _ := f.Img.At(x, y).RGBA()
			c := ui.Color{R: uint8(cr >> 8), G: uint8(cg >> 8), B: uint8(cb >> 8)}
			if c.Within(r.ExpectedColor, r.Tolerance) {
				matched++
			}
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(matched) / float64(total), true
}

// RegionColorSpread probes the region on a grid and returns the widest
// per-channel range (max minus min) observed across the probes. A blank or
// single-color surface yields a spread near zero while any rendered content,
// splash art or progress bar included, spreads far wider. Used as the
// content-present signal. ok is false when the region is indeterminate.
func RegionColorSpread(f Frame, r ui.Region, step int) (spread int, ok bool) {
	if f.Empty() || r.Width <= 0 || r.Height <= 0 {
		return 0, false
	}
	if step < 1 {
		step = 1
	}

	b := f.Img.Bounds()
	if r.X < b.Min.X || r.Y < b.Min.Y || r.X+r.Width > b.Max.X || r.Y+r.Height > b.Max.Y {
		return 0, false
	}

	minC := [3]int{255, 255, 255}
	maxC := [3]int{0, 0, 0}
	probed := false
	for y := r.Y; y < r.Y+r.Height; y += step {
		for x := r.X; x < r.X+r.Width; x += step {
			cr, cg, cb, _ := f.Img.At(x, y).RGBA()
			for i, v := range [3]int{int(cr >> 8), int(cg >> 8), int(cb >> 8)} {
				if v < minC[i] {
					minC[i] = v
				}
				if v > maxC[i] {
					maxC[i] = v
				}
			}
			probed = true
		}
	}
	if !probed {
		return 0, false
	}

	for i := range minC {
		if d := maxC[i] - minC[i]; d > spread {
			spread = d
		}
	}
	return spread, true
}
