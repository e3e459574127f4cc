package services

import (
	"math"

	"github.com/bobarin/beatframe/internal/models"
)

// ---------------------------------------------------------------------------
// Audio-to-visual mapping: raw band energy -> bounded visual intensity
// ---------------------------------------------------------------------------

const (
	// baselineRate is the slow EMA factor tracking a band's recent average.
	baselineRate = 0.01

	// transientWeight scales the smoothed positive delta before dynGain.
	transientWeight = 0.5

	relEpsilon = 1e-6
)

// BandTuning holds the fixed per-band responsiveness constants.
type BandTuning struct {
	Damping    float64 // fraction of the baseline subtracted before normalising
	LevelRate  float64 // EMA rate for the displayed level
	AttackRate float64 // transient EMA rate while the delta is rising
	DecayRate  float64 // transient EMA rate otherwise
	Clamp      float64 // upper bound of the mapped intensity
}

var (
	LowTuning  = BandTuning{Damping: 0.5, LevelRate: 0.25, AttackRate: 0.6, DecayRate: 0.15, Clamp: 3.0}
	MidTuning  = BandTuning{Damping: 0.3, LevelRate: 0.20, AttackRate: 0.5, DecayRate: 0.12, Clamp: 2.5}
	HighTuning = BandTuning{Damping: 0.3, LevelRate: 0.20, AttackRate: 0.5, DecayRate: 0.12, Clamp: 3.0}
)

// MappingProfile selects the rendering path the mapping serves. The
// interactive preview boosts the mid band; the authoritative render does not.
type MappingProfile struct {
	Name    string
	MidGain float64
}

var (
	RenderMapping  = MappingProfile{Name: "render", MidGain: 1.0}
	PreviewMapping = MappingProfile{Name: "preview", MidGain: 2.5}
)

// BandState is the adaptive filter state of one band.
type BandState struct {
	Baseline  float64
	Level     float64
	Transient float64
	PrevRaw   float64
}

// MappingState is the whole per-job filter state. The zero value is the
// reset state.
type MappingState struct {
	Low  BandState
	Mid  BandState
	High BandState
}

// Intensities are the mapped per-band visual drive values for one frame.
type Intensities struct {
	Low  float64
	Mid  float64
	High float64
}

// Reset returns the state to its job-start values.
func (s *MappingState) Reset() {
	*s = MappingState{}
}

// Step advances every band by one frame and returns the mapped intensities.
func (s *MappingState) Step(frame models.AudioFrame, cfg models.AudioMappingConfig, profile MappingProfile) Intensities {
	return Intensities{
		Low:  s.Low.step(frame.Low, cfg.Low, cfg.GlobalGain, 1, LowTuning),
		Mid:  s.Mid.step(frame.Mid, cfg.Mid, cfg.GlobalGain, profile.MidGain, MidTuning),
		High: s.High.step(frame.High, cfg.High, cfg.GlobalGain, 1, HighTuning),
	}
}

func (b *BandState) step(raw float64, gains models.BandGains, globalGain, extraGain float64, t BandTuning) float64 {
	b.Baseline = lerp(b.Baseline, raw, baselineRate)
	b.Level = lerp(b.Level, b.RelativeLevel(raw, t), t.LevelRate)

	delta := math.Max(0, raw-b.PrevRaw)
	rate := t.DecayRate
	if delta > b.Transient {
		rate = t.AttackRate
	}
	b.Transient = lerp(b.Transient, delta, rate)
	b.PrevRaw = raw

	out := (b.Level*gains.BaseGain + b.Transient*transientWeight*gains.DynGain) * globalGain * extraGain
	return clamp(out, 0, t.Clamp)
}

// RelativeLevel is the baseline-relative level for raw against the band's
// current baseline, before smoothing.
func (b BandState) RelativeLevel(raw float64, t BandTuning) float64 {
	damped := b.Baseline * t.Damping
	return math.Max(0, (raw-damped)/math.Max(relEpsilon, 1-damped))
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
