package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/metrics"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/services"
)

// defaultProgressEvery is how many frames pass between progress events.
const defaultProgressEvery = 100

// FrameSink consumes rendered frames. services.Encoder is the production sink.
type FrameSink interface {
	Start() error
	WriteFrame(frame []byte) error
	Finish() (string, error)
	Cancel()
	Progress() <-chan services.EncoderProgress
}

// SinkFactory builds the sink for one job.
type SinkFactory func(cfg services.EncoderConfig, logger zerolog.Logger) FrameSink

func newEncoderSink(cfg services.EncoderConfig, logger zerolog.Logger) FrameSink {
	return services.NewEncoder(cfg, logger)
}

type SchedulerConfig struct {
	FFmpegPath    string
	OutputDir     string
	TempDir       string
	ProgressEvery int
	Profile       services.MappingProfile
	NewSink       SinkFactory // nil = ffmpeg encoder
}

// OutputPath is the deterministic artifact location for a job.
func (c SchedulerConfig) OutputPath(jobID string) string {
	return filepath.Join(c.OutputDir, jobID+".mp4")
}

// ---------------------------------------------------------------------------
// Scheduler drives one job: map audio, composite, encode, frame by frame.
// A Scheduler renders exactly once; build a new one per job.
// ---------------------------------------------------------------------------

type Scheduler struct {
	cfg    SchedulerConfig
	logger zerolog.Logger
	state  services.MappingState
	used   atomic.Bool
}

func NewScheduler(cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.Profile.MidGain == 0 {
		cfg.Profile = services.RenderMapping
	}
	if cfg.NewSink == nil {
		cfg.NewSink = newEncoderSink
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Scheduler{cfg: cfg, logger: logger}
}

// Render produces {OutputDir}/{jobID}.mp4 from the recipe. It returns the
// context's cancellation cause when ctx ends first; the partial output is
// removed on every error path.
func (s *Scheduler) Render(ctx context.Context, recipe *models.Recipe, jobID string, onProgress func(models.Progress)) (string, error) {
	if !s.used.CompareAndSwap(false, true) {
		return "", fmt.Errorf("scheduler already used for another job")
	}

	logger := s.logger.With().Str("job_id", jobID).Logger()
	outputPath := s.cfg.OutputPath(jobID)

	if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.MkdirAll(s.cfg.TempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	// 1. Audio goes to a real file so the encoder can mux it
	audioPath, err := services.MaterializeAudio(s.cfg.TempDir, jobID, recipe.Audio.Source)
	if err != nil {
		return "", err
	}
	if audioPath == "" {
		logger.Warn().Msg("audio payload empty or undecodable, rendering without audio")
	} else {
		defer func() {
			if err := os.Remove(audioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("path", audioPath).Msg("failed to remove temp audio")
			}
		}()
	}

	// 2. Compositor with the job's image
	meta := recipe.Meta
	comp := services.NewCompositor(meta.Width, meta.Height)
	img, err := services.DecodePayload(recipe.Image.Source)
	if err != nil {
		return "", fmt.Errorf("failed to decode image payload: %w", err)
	}
	if err := comp.LoadImage(img.Data); err != nil {
		return "", err
	}

	// 3. Encoder
	sink := s.cfg.NewSink(services.EncoderConfig{
		BinPath:    s.cfg.FFmpegPath,
		Width:      meta.Width,
		Height:     meta.Height,
		FPS:        meta.FPS,
		AudioPath:  audioPath,
		OutputPath: outputPath,
	}, logger)

	if err := sink.Start(); err != nil {
		return "", err
	}

	var encoded atomic.Int64
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range sink.Progress() {
			encoded.Store(p.Frame)
			logger.Debug().Int64("frame", p.Frame).Msg("encoder progress")
		}
	}()
	defer func() { <-drained }()

	// A blocked write only returns once the encoder dies.
	stopKill := context.AfterFunc(ctx, sink.Cancel)
	defer stopKill()

	// 4. Fresh mapping state for this job
	s.state.Reset()

	total := meta.TotalFrames
	fps := float64(meta.FPS)
	start := time.Now()

	logger.Info().
		Int("frames", total).
		Int("fps", meta.FPS).
		Str("size", fmt.Sprintf("%dx%d", meta.Width, meta.Height)).
		Bool("audio", audioPath != "").
		Str("mapping", s.cfg.Profile.Name).
		Msg("render started")

	// 5. Strictly sequential: render i, write i, then i+1
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return "", s.abort(ctx, sink, outputPath, logger, i)
		}

		in := s.state.Step(recipe.FrameAt(i), recipe.Effects.AudioMapping, s.cfg.Profile)
		buf := comp.RenderFrame(services.FrameParams{
			FrameIndex: i,
			TimeSec:    float64(i) / fps,
			Low:        in.Low,
			Mid:        in.Mid,
			High:       in.High,
		}, recipe.Effects)

		if err := sink.WriteFrame(buf); err != nil {
			if ctx.Err() != nil {
				return "", s.abort(ctx, sink, outputPath, logger, i)
			}
			sink.Cancel()
			s.finishQuietly(sink)
			removePartial(outputPath, logger)
			return "", err
		}
		metrics.FramesRendered.Inc()

		done := i + 1
		if onProgress != nil && (done%s.cfg.ProgressEvery == 0 || done == total) {
			onProgress(progressAt(done, total, time.Since(start), encoded.Load()))
		}
	}

	// 6. End of input, wait for the encoder
	path, err := sink.Finish()
	if err != nil {
		removePartial(outputPath, logger)
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", err
	}

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Str("output", path).
		Msg("render completed")
	return path, nil
}

// abort tears the encoder down after ctx ended and reports why.
func (s *Scheduler) abort(ctx context.Context, sink FrameSink, outputPath string, logger zerolog.Logger, frame int) error {
	cause := context.Cause(ctx)
	logger.Info().Int("frame", frame).Err(cause).Msg("render aborted")

	sink.Cancel()
	s.finishQuietly(sink)
	removePartial(outputPath, logger)
	return cause
}

// finishQuietly reaps a cancelled sink so no process outlives the render.
func (s *Scheduler) finishQuietly(sink FrameSink) {
	_, _ = sink.Finish()
}

func removePartial(path string, logger zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove partial output")
	}
}

func progressAt(done, total int, elapsed time.Duration, encoded int64) models.Progress {
	p := models.Progress{
		Frame:         done,
		TotalFrames:   total,
		EncodedFrames: encoded,
	}
	if total > 0 {
		p.Percent = float64(done) / float64(total) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.FPS = float64(done) / secs
	}
	if p.FPS > 0 {
		p.ETA = time.Duration(float64(total-done) / p.FPS * float64(time.Second))
	}
	return p
}
