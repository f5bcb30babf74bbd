package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/download"
	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/session"
	"github.com/acknak/pothook/internal/transcript"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Output formats accepted by --format.
const (
	formatText = "txt"
	formatSRT  = "srt"
	formatJSON = "json"
)

// transcriptBuffer keeps whole runs of segments even when the collector
// drains more slowly than the engine emits.
const transcriptBuffer = 4096

type transcribeOptions struct {
	model        string
	language     string
	translate    bool
	offset       time.Duration
	duration     time.Duration
	format       string
	output       string
	clock        bool
	silenceGate  bool
	autoDownload bool
	mirror       string
}

func newTranscribeCmd(app *appState) *cobra.Command {
	opts := transcribeOptions{
		model:        whisper.DefaultModel,
		format:       formatText,
		clock:        true,
		silenceGate:  true,
		autoDownload: true,
	}

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Long: "Transcribe converts the input to 16 kHz mono WAV when needed, runs the\n" +
			"whisper engine over the selected window and prints the transcript.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.init(); err != nil {
				return err
			}
			return app.runTranscribe(cmd.Context(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.model, "model", opts.model, "Model name or model file path")
	f.StringVar(&opts.language, "language", "", "Language code (auto|en|ja|...); defaults to POTHOOK_LANGUAGE")
	f.BoolVar(&opts.translate, "translate", false, "Translate the transcript to English")
	f.DurationVar(&opts.offset, "offset", 0, "Start of the window, e.g. 30s")
	f.DurationVar(&opts.duration, "duration", 0, "Length of the window; 0 means to the end")
	f.StringVar(&opts.format, "format", opts.format, "Output format: txt|srt|json")
	f.StringVarP(&opts.output, "output", "o", "", "Write the transcript to a file instead of stdout")
	f.BoolVar(&opts.clock, "clock", opts.clock, "Prefix txt lines with their time span")
	f.BoolVar(&opts.silenceGate, "silence-gate", opts.silenceGate, "Skip the engine for near-silent audio")
	f.BoolVar(&opts.autoDownload, "auto-download", opts.autoDownload, "Download a missing catalog model")
	f.StringVar(&opts.mirror, "mirror", "", "Base URL to download models from")
	return cmd
}

func (a *appState) runTranscribe(ctx context.Context, input string, opts transcribeOptions) error {
	switch opts.format {
	case formatText, formatSRT, formatJSON:
	default:
		return fmt.Errorf("unknown format %q (want txt, srt or json)", opts.format)
	}
	if opts.offset < 0 || opts.duration < 0 {
		return errors.New("offset and duration must not be negative")
	}

	input = filepath.Clean(input)
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("audio file not found: %w", err)
	}

	modelPath, err := a.ensureModel(ctx, opts.model, opts.autoDownload, opts.mirror)
	if err != nil {
		return err
	}
	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	wavPath, cleanup, err := a.ensureCanonical(ctx, input)
	if err != nil {
		return err
	}
	defer cleanup()

	durationMS := opts.duration.Milliseconds()
	if durationMS == 0 {
		if total, err := audio.WAVDuration(wavPath); err == nil && total > opts.offset {
			durationMS = (total - opts.offset).Milliseconds()
		}
	}

	language := opts.language
	if language == "" {
		language = a.cfg.Language
	}
	req := whisper.Request{
		PathWav:    wavPath,
		PathModel:  modelPath,
		Language:   sanitizeLanguage(language),
		Translate:  opts.translate,
		OffsetMS:   opts.offset.Milliseconds(),
		DurationMS: durationMS,
	}

	collector, err := a.transcribe(ctx, engine, req, opts)
	if err != nil {
		return err
	}
	if collector.Blank() {
		a.log().Warn(noSpeechHint())
	}
	return a.writeTranscript(collector, opts)
}

// transcribe runs the driver and returns the collected transcript once every
// segment event has been consumed.
func (a *appState) transcribe(ctx context.Context, engine whisper.Engine, req whisper.Request, opts transcribeOptions) (*transcript.Collector, error) {
	bus := events.NewBus(max(a.cfg.EventBuffer, transcriptBuffer), 1, a.log())
	store := session.NewStore(bus)
	store.SetDisplayClock(opts.clock)
	collector := transcript.NewCollector(store)

	collected, stopCollect := bus.Subscribe(events.ChannelWhisper)
	shown, stopShow := bus.Subscribe(events.ChannelWhisper)
	runID := events.NewRunID()
	secEnd := int((req.OffsetMS + req.DurationMS) / 1000)

	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		collector.Follow(context.Background(), collected)
	}()
	showDone := make(chan struct{})
	go func() {
		defer close(showDone)
		watchTranscription(shown, runID, secEnd, newProgressView(a.errWriter(), a.progressEnabled()))
	}()

	driver := &whisper.Driver{
		Engine:      engine,
		Store:       store,
		Publisher:   bus,
		Logger:      a.log(),
		Threads:     a.cfg.Threads,
		SilenceGate: opts.silenceGate,
	}
	started := time.Now()
	err := driver.Transcribe(ctx, runID, req)

	stopShow()
	stopCollect()
	<-showDone
	<-collectDone

	if err != nil {
		return nil, err
	}
	a.log().Info("transcription finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("segments", len(collector.Entries())),
	)
	return collector, nil
}

func (a *appState) writeTranscript(collector *transcript.Collector, opts transcribeOptions) (err error) {
	w := a.outWriter()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("close output file: %w", cerr)
			}
		}()
		w = f
	}
	return renderTranscript(w, collector, opts.format)
}

func renderTranscript(w io.Writer, collector *transcript.Collector, format string) error {
	switch format {
	case formatSRT:
		return transcript.WriteSRT(w, collector.Entries())
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		entries := collector.Entries()
		if entries == nil {
			entries = []transcript.Entry{}
		}
		return enc.Encode(entries)
	default:
		text := collector.Text()
		if text == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, text)
		return err
	}
}

// ensureModel resolves ref to a model file, downloading catalog models when
// allowed.
func (a *appState) ensureModel(ctx context.Context, ref string, autoDownload bool, mirror string) (string, error) {
	modelDir := ""
	if _, ok := whisper.FindModel(ref); ok || ref == "" {
		dir, err := a.modelStorageDir()
		if err != nil {
			return "", err
		}
		modelDir = dir
	}

	loc, err := whisper.LocateModel(ref, modelDir)
	if err != nil {
		return "", err
	}
	if !loc.NeedsDownload {
		return loc.Path, nil
	}
	if !autoDownload {
		return "", fmt.Errorf("model %q is missing at %s; run `pothook setup --model %s` or use --auto-download", loc.Spec.Name, loc.Path, loc.Spec.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", loc.Spec.Name), zap.String("destination", loc.Path))
	if err := a.fetchModel(ctx, loc, mirror); err != nil {
		return "", err
	}
	return loc.Path, nil
}

func (a *appState) fetchModel(ctx context.Context, loc whisper.ModelLocation, mirror string) error {
	url := loc.Spec.URL()
	if mirror != "" {
		url = loc.Spec.URLAt(mirror)
	}
	fetcher := &download.Fetcher{Logger: a.log()}
	if a.progressEnabled() {
		fetcher.Progress = a.errWriter()
	}
	if err := fetcher.Fetch(ctx, download.Request{
		URL:         url,
		Destination: loc.Path,
		SHA256:      loc.Spec.SHA256,
		Label:       loc.Spec.Name,
	}); err != nil {
		return fmt.Errorf("download model %q: %w", loc.Spec.Name, err)
	}
	return nil
}

func noSpeechHint() string {
	return "No speech detected. Check the input level and the trim window, then try again."
}
