package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newConvertCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <input> <output.wav>",
		Short: "Convert any media file to a 16 kHz mono 16-bit WAV",
		Long: "Convert decodes WAV, MP3, FLAC and Ogg Vorbis natively and falls back to\n" +
			"ffmpeg for every other container, resamples to 16 kHz and writes a PCM WAV.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.init(); err != nil {
				return err
			}
			in, out := filepath.Clean(args[0]), filepath.Clean(args[1])
			if err := app.convertFile(cmd.Context(), in, out); err != nil {
				return err
			}
			format, err := audio.InspectWAV(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.outWriter(), "wrote %s (%s)\n", out, format)
			return nil
		},
	}
}

func (a *appState) converter(pub events.Publisher) *audio.Converter {
	return &audio.Converter{
		Decoder: audio.Decoder{
			FFmpeg: audio.FFmpeg{FFmpegPath: a.cfg.FFmpegPath, FFprobePath: a.cfg.FFprobePath},
			Logger: a.log(),
		},
		Publisher: pub,
		Logger:    a.log(),
	}
}

// convertFile runs one conversion and renders its progress on stderr.
func (a *appState) convertFile(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("input file not found: %w", err)
	}

	bus := events.NewBus(a.cfg.EventBuffer, 1, a.log())
	sub, cancel := bus.Subscribe(events.ChannelAudioConv)
	runID := events.NewRunID()

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchConversion(sub, runID, newProgressView(a.errWriter(), a.progressEnabled()))
	}()

	err := a.converter(bus).Convert(ctx, runID, in, out)
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("convert %s: %w", in, err)
	}
	return nil
}

// ensureCanonical returns path when it already is a canonical WAV, and a
// converted temporary copy otherwise. cleanup removes the copy.
func (a *appState) ensureCanonical(ctx context.Context, path string) (string, func(), error) {
	noop := func() {}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if err := audio.CheckFormat(path); err == nil {
			return path, noop, nil
		}
	}

	dir, err := os.MkdirTemp("", "pothook-*")
	if err != nil {
		return "", noop, fmt.Errorf("create temp directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			a.log().Warn("failed to remove converted audio", zap.String("dir", dir), zap.Error(err))
		}
	}

	out := filepath.Join(dir, "audio.wav")
	a.log().Info("converting input to 16 kHz mono WAV", zap.String("input", path))
	if err := a.convertFile(ctx, path, out); err != nil {
		cleanup()
		return "", noop, err
	}
	return out, cleanup, nil
}
