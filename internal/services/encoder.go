package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/metrics"
)

// Output encoding constants. These are fixed, not exposed per recipe.
const (
	inputPixelFormat  = "rgba"
	videoCodec        = "libx264"
	videoPreset       = "medium"
	videoCRF          = "20"
	outputPixelFormat = "yuv420p"
	audioCodec        = "aac"
	audioBitrate      = "192k"

	// stderrTailChars bounds the stderr excerpt carried by EncoderRuntimeError.
	stderrTailChars = 500

	// waitDelay bounds how long Wait lingers on stderr after the process exits.
	waitDelay = 5 * time.Second
)

var frameProgressRe = regexp.MustCompile(`frame=\s*(\d+)`)

// EncoderConfig describes one encode.
type EncoderConfig struct {
	BinPath    string
	Width      int
	Height     int
	FPS        int
	AudioPath  string // optional second input
	OutputPath string
}

// EncoderProgress is parsed from the encoder's own stderr stats lines.
type EncoderProgress struct {
	Frame int64
}

// ---------------------------------------------------------------------------
// Encoder: one ffmpeg process fed raw RGBA frames on stdin
// ---------------------------------------------------------------------------

type Encoder struct {
	cfg    EncoderConfig
	logger zerolog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrScanner
	frames atomic.Int64

	progressCh chan EncoderProgress
	done       chan struct{}
	waitErr    error

	mu        sync.Mutex
	started   bool
	cancelled bool
}

func NewEncoder(cfg EncoderConfig, logger zerolog.Logger) *Encoder {
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	return &Encoder{
		cfg:        cfg,
		logger:     logger,
		progressCh: make(chan EncoderProgress, 16),
		done:       make(chan struct{}),
	}
}

// Args returns the encoder command line (without the binary).
func (e *Encoder) Args() []string {
	args := []string{
		"-hide_banner",
		"-stats",
		// Input 0: raw frames on stdin
		"-f", "rawvideo",
		"-pix_fmt", inputPixelFormat,
		"-s", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
		"-r", strconv.Itoa(e.cfg.FPS),
		"-i", "pipe:0",
	}

	if e.cfg.AudioPath != "" {
		args = append(args, "-i", e.cfg.AudioPath) // Input 1: original audio
	}

	args = append(args, "-map", "0:v:0")
	if e.cfg.AudioPath != "" {
		args = append(args, "-map", "1:a:0")
	}

	args = append(args,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-pix_fmt", outputPixelFormat,
	)

	if e.cfg.AudioPath != "" {
		args = append(args,
			"-c:a", audioCodec,
			"-b:a", audioBitrate,
		)
	}

	args = append(args,
		"-shortest", // End with the shorter of video and audio
		"-movflags", "+faststart",
		"-y",
		e.cfg.OutputPath,
	)
	return args
}

// Start spawns the encoder. A missing binary yields *EncoderMissingError,
// any other spawn failure *EncoderRuntimeError.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("encoder already started")
	}
	if e.cancelled {
		return fmt.Errorf("encoder cancelled before start")
	}

	args := e.Args()
	e.logger.Debug().Str("bin", e.cfg.BinPath).Strs("args", args).Msg("starting encoder")

	cmd := exec.Command(e.cfg.BinPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("getting stdin pipe: %w", err)
	}
	e.stderr = newStderrScanner(e.onStderrLine)
	cmd.Stderr = e.stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			metrics.EncoderStarts.WithLabelValues("missing").Inc()
			return &EncoderMissingError{Binary: e.cfg.BinPath, Err: err}
		}
		metrics.EncoderStarts.WithLabelValues("error").Inc()
		return &EncoderRuntimeError{ExitCode: -1, Err: fmt.Errorf("starting encoder: %w", err)}
	}
	metrics.EncoderStarts.WithLabelValues("ok").Inc()

	e.cmd = cmd
	e.stdin = stdin
	e.started = true

	go func() {
		e.waitErr = cmd.Wait()
		e.stderr.flush()
		close(e.progressCh)
		close(e.done)
	}()

	return nil
}

func (e *Encoder) onStderrLine(line string) {
	e.logger.Trace().Str("line", line).Msg("encoder stderr")

	m := frameProgressRe.FindStringSubmatch(line)
	if len(m) < 2 {
		return
	}
	frame, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return
	}

	select {
	case e.progressCh <- EncoderProgress{Frame: frame}:
	default:
		// Don't block the encoder's stderr if nobody is listening
	}
}

// Progress streams frame counts reported by the encoder. The channel closes
// when the process exits.
func (e *Encoder) Progress() <-chan EncoderProgress {
	return e.progressCh
}

// WriteFrame writes one raw frame to the encoder's stdin. The write blocks
// while the pipe is full, which is the pipeline's backpressure.
func (e *Encoder) WriteFrame(frame []byte) error {
	if !e.isStarted() {
		return fmt.Errorf("encoder not started")
	}

	if _, err := e.stdin.Write(frame); err != nil {
		select {
		case <-e.done:
			// The process is gone; its exit status explains the broken pipe.
			if exitErr := e.exitError(); exitErr != nil {
				return &WriteError{Frame: int(e.frames.Load()), Err: exitErr}
			}
		default:
		}
		return &WriteError{Frame: int(e.frames.Load()), Err: err}
	}
	e.frames.Add(1)
	return nil
}

// Finish closes stdin and waits for the encoder to exit. It returns the
// output path on a clean exit.
func (e *Encoder) Finish() (string, error) {
	if !e.isStarted() {
		return "", fmt.Errorf("encoder not started")
	}

	if err := e.stdin.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
		e.logger.Debug().Err(err).Msg("closing encoder stdin")
	}

	<-e.done
	if err := e.exitError(); err != nil {
		return "", err
	}
	return e.cfg.OutputPath, nil
}

// Cancel kills the encoder if it is still running. Safe to call repeatedly
// and from any goroutine.
func (e *Encoder) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelled {
		return
	}
	e.cancelled = true

	if !e.started {
		return
	}

	select {
	case <-e.done:
		return
	default:
	}

	e.logger.Info().Int64("frames_written", e.frames.Load()).Msg("killing encoder")
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.logger.Warn().Err(err).Msg("failed to kill encoder")
	}
}

func (e *Encoder) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// exitError must only be called after done is closed.
func (e *Encoder) exitError() error {
	if e.waitErr == nil {
		return nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(e.waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &EncoderRuntimeError{
		ExitCode: code,
		Stderr:   e.stderr.tail(stderrTailChars),
		Err:      e.waitErr,
	}
}

// ---------------------------------------------------------------------------
// stderrScanner splits encoder stderr into lines. ffmpeg terminates its
// stats lines with '\r', so both '\r' and '\n' end a line.
// ---------------------------------------------------------------------------

const stderrKeepLines = 64

type stderrScanner struct {
	onLine  func(string)
	partial []byte
	lines   []string
}

func newStderrScanner(onLine func(string)) *stderrScanner {
	return &stderrScanner{onLine: onLine}
}

func (s *stderrScanner) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			s.emit()
			continue
		}
		s.partial = append(s.partial, b)
	}
	return len(p), nil
}

func (s *stderrScanner) emit() {
	if len(s.partial) == 0 {
		return
	}
	line := string(s.partial)
	s.partial = s.partial[:0]

	s.lines = append(s.lines, line)
	if len(s.lines) > stderrKeepLines {
		s.lines = s.lines[len(s.lines)-stderrKeepLines:]
	}
	if s.onLine != nil {
		s.onLine(line)
	}
}

func (s *stderrScanner) flush() {
	s.emit()
}

// tail returns the last n characters of the retained stderr text.
func (s *stderrScanner) tail(n int) string {
	text := strings.TrimSpace(strings.Join(s.lines, "\n"))
	if len(text) > n {
		text = text[len(text)-n:]
	}
	return text
}
