// Command render turns a recipe file into an MP4 without running the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bobarin/beatframe/internal/logging"
	"github.com/bobarin/beatframe/internal/models"
	"github.com/bobarin/beatframe/internal/services"
	"github.com/bobarin/beatframe/internal/worker"
)

type renderOptions struct {
	outputDir string
	tempDir   string
	ffmpeg    string
	name      string
	preview   bool
	logLevel  string
	quiet     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render <recipe.json>",
		Short: "Render an audio-reactive video from a recipe",
		Long: `render reads a recipe (the same JSON body POST /v1/jobs accepts),
renders every frame and encodes them with ffmpeg into {output-dir}/{name}.mp4.

Use "-" to read the recipe from stdin.

Example:
  render --output-dir ./out --name teaser recipe.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runRender(cmd.Context(), args[0], opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", describeError(err, opts.ffmpeg))
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output-dir", "o", "./renders", "directory for the finished MP4")
	flags.StringVar(&opts.tempDir, "temp-dir", os.TempDir(), "directory for the decoded audio track")
	flags.StringVar(&opts.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary name or path")
	flags.StringVar(&opts.name, "name", "", "output file name without extension (default: recipe file name)")
	flags.BoolVar(&opts.preview, "preview", false, "use the preview audio mapping (boosted mid band)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")

	return cmd
}

func runRender(parent context.Context, recipePath string, opts *renderOptions) error {
	logging.Configure(logging.Config{
		Level:   opts.logLevel,
		Output:  os.Stderr,
		Pretty:  true,
		Service: "beatframe-render",
	})

	recipe, err := readRecipe(recipePath)
	if err != nil {
		return err
	}
	if err := recipe.Validate(); err != nil {
		return err
	}

	name := opts.name
	if name == "" {
		name = outputName(recipePath)
	}

	profile := services.RenderMapping
	if opts.preview {
		profile = services.PreviewMapping
	}

	// Progress roughly once per second of video
	sched := worker.NewScheduler(worker.SchedulerConfig{
		FFmpegPath:    opts.ffmpeg,
		OutputDir:     opts.outputDir,
		TempDir:       opts.tempDir,
		ProgressEvery: recipe.Meta.FPS,
		Profile:       profile,
	}, logging.WithComponent("scheduler"))

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel(models.ErrCancelled)
		case <-ctx.Done():
		}
	}()

	var bar *progressbar.ProgressBar
	if !opts.quiet {
		bar = progressbar.NewOptions(recipe.Meta.TotalFrames,
			progressbar.OptionSetDescription("Rendering"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}

	path, err := sched.Render(ctx, recipe, name, func(p models.Progress) {
		if bar != nil {
			_ = bar.Set(p.Frame)
		}
	})
	if err != nil {
		if bar != nil {
			_ = bar.Exit()
		}
		return err
	}

	fmt.Println(path)
	return nil
}

func readRecipe(path string) (*models.Recipe, error) {
	if path == "-" {
		return models.DecodeRecipe(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer f.Close()

	return models.DecodeRecipe(f)
}

// outputName derives the job name from the recipe file, or a random one for stdin.
func outputName(recipePath string) string {
	if recipePath == "-" {
		return uuid.NewString()
	}
	base := filepath.Base(recipePath)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return uuid.NewString()
}

// describeError turns pipeline errors into something a user can act on.
func describeError(err error, ffmpeg string) string {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, services.ErrEncoderMissing):
		return fmt.Sprintf("%q was not found. Install ffmpeg (https://ffmpeg.org/download.html) or pass --ffmpeg with its full path.", ffmpeg)
	case errors.Is(err, models.ErrCancelled):
		return "render cancelled, partial output removed"
	case errors.As(err, &verr):
		lines := make([]string, 0, len(verr.Fields)+1)
		lines = append(lines, "recipe is invalid:")
		for _, f := range verr.Fields {
			lines = append(lines, "  "+f.String())
		}
		return strings.Join(lines, "\n")
	default:
		return err.Error()
	}
}
