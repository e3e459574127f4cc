package models

import (
	"math"
	"time"
)

// Enums
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRendering JobStatus = "rendering"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Recipe schema. Field names follow the upstream JSON contract (camelCase).

type Recipe struct {
	Version int          `json:"version" validate:"required,min=1"`
	Meta    RecipeMeta   `json:"meta"`
	Audio   AudioSource  `json:"audio"`
	Image   ImageSource  `json:"image"`
	Frames  []AudioFrame `json:"frames" validate:"required,min=1,dive"`
	Effects EffectConfig `json:"effects"`
}

type RecipeMeta struct {
	DurationSec float64 `json:"durationSec" validate:"gte=1,lte=600"`
	FPS         int     `json:"fps" validate:"min=1,max=60"`
	Width       int     `json:"width" validate:"min=100,max=4096"`
	Height      int     `json:"height" validate:"min=100,max=4096"`
	TotalFrames int     `json:"totalFrames" validate:"min=1"`
}

// ExpectedFrames is ceil(durationSec * fps), the frame count every recipe must declare.
func (m RecipeMeta) ExpectedFrames() int {
	return int(math.Ceil(m.DurationSec * float64(m.FPS)))
}

type AudioSource struct {
	// Source is an embedded payload, usually a data URL ("data:audio/mpeg;base64,...").
	Source     string `json:"source"`
	SampleRate int    `json:"sampleRate" validate:"omitempty,min=1"`
}

type ImageSource struct {
	Source string `json:"source" validate:"required"`
	Width  int    `json:"width" validate:"omitempty,min=1"`
	Height int    `json:"height" validate:"omitempty,min=1"`
}

// AudioFrame is the pre-extracted band energy for one output frame.
type AudioFrame struct {
	Low  float64 `json:"low" validate:"gte=0,lte=1"`
	Mid  float64 `json:"mid" validate:"gte=0,lte=1"`
	High float64 `json:"high" validate:"gte=0,lte=1"`
}

// FrameAt returns frames[i], or a zero-energy frame when i is out of range.
func (r *Recipe) FrameAt(i int) AudioFrame {
	if i < 0 || i >= len(r.Frames) {
		return AudioFrame{}
	}
	return r.Frames[i]
}

type EffectConfig struct {
	BreathingScale      float64            `json:"breathingScale" validate:"gte=0,lte=1"`
	ChromaticAberration float64            `json:"chromaticAberration" validate:"gte=0,lte=10"`
	GrainAmount         float64            `json:"grainAmount" validate:"gte=0,lte=1"`
	VignetteStrength    float64            `json:"vignetteStrength" validate:"gte=0,lte=1"`
	AudioMapping        AudioMappingConfig `json:"audioMapping"`
}

type BandGains struct {
	BaseGain float64 `json:"baseGain" validate:"gte=0"`
	DynGain  float64 `json:"dynGain" validate:"gte=0"`
}

type AudioMappingConfig struct {
	GlobalGain float64   `json:"globalGain" validate:"gte=0"`
	Low        BandGains `json:"low"`
	Mid        BandGains `json:"mid"`
	High       BandGains `json:"high"`
}

func DefaultAudioMappingConfig() AudioMappingConfig {
	return AudioMappingConfig{
		GlobalGain: 0.75,
		Low:        BandGains{BaseGain: 0.65, DynGain: 8.0},
		Mid:        BandGains{BaseGain: 0.65, DynGain: 7.0},
		High:       BandGains{BaseGain: 0.65, DynGain: 6.0},
	}
}

func DefaultEffectConfig() EffectConfig {
	return EffectConfig{
		BreathingScale:      0.08,
		ChromaticAberration: 1.0,
		GrainAmount:         0.04,
		VignetteStrength:    0.35,
		AudioMapping:        DefaultAudioMappingConfig(),
	}
}

// Job is the queue's record of one render request.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	OutputPath  *string    `json:"output_path,omitempty"`

	ETASeconds    *float64 `json:"eta_seconds,omitempty"`
	RenderFPS     float64  `json:"render_fps,omitempty"`
	EncodedFrames int64    `json:"encoded_frames,omitempty"`
	TotalFrames   int      `json:"total_frames"`
}

// JobView is the externally visible snapshot of a job.
type JobView struct {
	Job
	// Position is the 1-based FIFO position while pending.
	Position *int `json:"position,omitempty"`
}

// Progress is emitted by a scheduler while a job renders.
type Progress struct {
	Frame         int
	TotalFrames   int
	Percent       float64
	FPS           float64
	ETA           time.Duration
	EncodedFrames int64
}

type QueueStats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// Requests / responses

type EnqueueResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// Helper functions

func StrPtr(s string) *string {
	return &s
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
