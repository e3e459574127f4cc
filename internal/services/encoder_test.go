package services

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes an executable shell script standing in for ffmpeg.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script encoder needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testEncoderConfig(t *testing.T, bin string) EncoderConfig {
	return EncoderConfig{
		BinPath:    bin,
		Width:      4,
		Height:     2,
		FPS:        30,
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	}
}

func TestEncoderArgs(t *testing.T) {
	cfg := EncoderConfig{Width: 1280, Height: 720, FPS: 30, OutputPath: "/renders/job.mp4"}

	args := NewEncoder(cfg, zerolog.Nop()).Args()
	assert.Subset(t, args, []string{"rawvideo", "rgba", "1280x720", "pipe:0", "libx264", "yuv420p", "-shortest"})
	assert.NotContains(t, args, "1:a:0")
	assert.NotContains(t, args, "aac")
	assert.Equal(t, "/renders/job.mp4", args[len(args)-1])

	cfg.AudioPath = "/tmp/audio.mp3"
	args = NewEncoder(cfg, zerolog.Nop()).Args()
	assert.Subset(t, args, []string{"/tmp/audio.mp3", "0:v:0", "1:a:0", "aac", "192k"})
}

func TestEncoderFinishReportsProgress(t *testing.T) {
	bin := fakeEncoder(t, `cat > /dev/null
printf 'frame=    1 fps=0.0 q=0.0\rframe=   12 fps=30 q=28.0\n' >&2
for last; do :; done
: > "$last"`)

	cfg := testEncoderConfig(t, bin)
	enc := NewEncoder(cfg, zerolog.Nop())
	require.NoError(t, enc.Start())

	frame := make([]byte, cfg.Width*cfg.Height*4)
	for i := 0; i < 3; i++ {
		require.NoError(t, enc.WriteFrame(frame))
	}
	assert.EqualValues(t, 3, enc.frames.Load())

	path, err := enc.Finish()
	require.NoError(t, err)
	assert.Equal(t, cfg.OutputPath, path)
	assert.FileExists(t, path)

	var frames []int64
	for p := range enc.Progress() {
		frames = append(frames, p.Frame)
	}
	assert.Equal(t, []int64{1, 12}, frames)
}

func TestEncoderNonzeroExit(t *testing.T) {
	bin := fakeEncoder(t, `cat > /dev/null
echo "pipe:0: Invalid data found when processing input" >&2
exit 3`)

	enc := NewEncoder(testEncoderConfig(t, bin), zerolog.Nop())
	require.NoError(t, enc.Start())

	_, err := enc.Finish()
	require.Error(t, err)

	var runtimeErr *EncoderRuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, 3, runtimeErr.ExitCode)
	assert.Contains(t, runtimeErr.Stderr, "Invalid data found")
	assert.False(t, errors.Is(err, ErrEncoderMissing))
}

func TestEncoderMissingBinary(t *testing.T) {
	for _, bin := range []string{
		"beatframe-no-such-encoder",
		filepath.Join(t.TempDir(), "missing", "ffmpeg"),
	} {
		enc := NewEncoder(testEncoderConfig(t, bin), zerolog.Nop())
		err := enc.Start()
		require.Error(t, err, bin)

		var missing *EncoderMissingError
		require.ErrorAs(t, err, &missing, bin)
		assert.Equal(t, bin, missing.Binary)
		assert.True(t, errors.Is(err, ErrEncoderMissing))
		assert.Contains(t, err.Error(), "install the encoder")
	}
}

func TestEncoderCancelUnblocksWrite(t *testing.T) {
	// The stand-in never reads stdin, so a large write blocks on the pipe.
	bin := fakeEncoder(t, `exec sleep 30`)

	enc := NewEncoder(testEncoderConfig(t, bin), zerolog.Nop())
	require.NoError(t, enc.Start())

	errCh := make(chan error, 1)
	go func() {
		errCh <- enc.WriteFrame(make([]byte, 4<<20))
	}()

	time.Sleep(100 * time.Millisecond)
	enc.Cancel()
	enc.Cancel()

	select {
	case err := <-errCh:
		var writeErr *WriteError
		assert.ErrorAs(t, err, &writeErr)
	case <-time.After(10 * time.Second):
		t.Fatal("write did not unblock after cancel")
	}

	select {
	case <-enc.done:
	case <-time.After(10 * time.Second):
		t.Fatal("encoder still running after cancel")
	}

	_, err := enc.Finish()
	var runtimeErr *EncoderRuntimeError
	assert.ErrorAs(t, err, &runtimeErr)
}

func TestEncoderCancelBeforeStart(t *testing.T) {
	enc := NewEncoder(testEncoderConfig(t, "ffmpeg"), zerolog.Nop())
	enc.Cancel()
	assert.Error(t, enc.Start())
}

func TestStderrScannerSplitsCarriageReturns(t *testing.T) {
	var lines []string
	s := newStderrScanner(func(line string) { lines = append(lines, line) })

	_, _ = s.Write([]byte("frame=  1\rfra"))
	_, _ = s.Write([]byte("me=  2\r\nlast"))
	s.flush()

	assert.Equal(t, []string{"frame=  1", "frame=  2", "last"}, lines)
	assert.Equal(t, "2\nlast", s.tail(6))
}
