package ui

// Well-known region names referenced by the screen classifier. Any region can
// be added to the definition file, but these carry classification semantics.
const (
	RegionLockIndicator     = "lock_indicator"
	RegionContentArea       = "content_area"
	RegionStoreIcon         = "store_icon"
	RegionNotificationPanel = "notification_panel"

	// RegionScreenCenter is a pseudo-region: it is never present in the
	// definition file, tap actions targeting it resolve to the center of the
	// configured window geometry.
	RegionScreenCenter = "screen_center"

	// AppIconPrefix marks home-screen app icon landmarks. Every region whose
	// name starts with this prefix participates in the loaded-state check.
	AppIconPrefix = "app_icon"
)

// Color is an 8-bit RGB color sampled from or expected on screen.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Within reports whether every channel of c is within tol of want.
func (c Color) Within(want Color, tol int) bool {
	return absDiff(c.R, want.R) <= tol && absDiff(c.G, want.G) <= tol && absDiff(c.B, want.B) <= tol
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// Region is a named rectangle on the controlled surface together with the
// color expected there and the per-channel tolerance for the comparison.
// Coordinates are desktop coordinates, not window-relative.
type Region struct {
	Name          string `json:"-"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ExpectedColor Color  `json:"expected_color"`
	Tolerance     int    `json:"tolerance"`
}

// Center returns the midpoint of the region in desktop coordinates.
func (r Region) Center() (x, y int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Geometry describes where the controlled window sits on the desktop.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the midpoint of the window in desktop coordinates.
func (g Geometry) Center() (x, y int) {
	return g.X + g.Width/2, g.Y + g.Height/2
}
