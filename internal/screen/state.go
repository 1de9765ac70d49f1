package screen

// State is a mutually exclusive classification of the controlled surface at
// one point in time. Classification is a priority cascade, not a vote: some
// conditions are visually a subset of others, so the first matching check in
// priority order wins.
type State string

const (
	// StateEmpty: the emulator has not composited any frame yet.
	StateEmpty State = "empty"
	// StateLock: the compositor lock indicator glyph is visible.
	StateLock State = "lock"
	// StateBlack: the content area is uniformly dark and no lock indicator
	// is present.
	StateBlack State = "black"
	// StateLoading: content is on screen but the home-screen landmarks have
	// not appeared yet.
	StateLoading State = "loading"
	// StateLoaded: every home-screen landmark is present. Terminal state.
	StateLoaded State = "loaded"
	// StateInterstitial: a recognized but non-actionable transient screen,
	// e.g. the notifications center, sits in place of the expected view.
	StateInterstitial State = "interstitial"
	// StateUnknown: nothing matched. Always a valid outcome, never an error.
	StateUnknown State = "unknown"
)

func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

// Running is the legacy boolean projection kept for callers that predate the
// state taxonomy: only a fully loaded home screen counts as running.
func (s State) Running() bool {
	return s == StateLoaded
}
