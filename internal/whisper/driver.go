package whisper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/fault"
	"github.com/acknak/pothook/internal/metrics"
	"github.com/acknak/pothook/internal/session"
	"go.uber.org/zap"
)

// Lifecycle messages carried by whisper events.
const (
	MsgStarted     = "transcription started"
	MsgFinished    = "transcription finished"
	MsgSilent      = "audio is silent; skipped transcription"
	MsgEmptyWindow = "trim window is empty; nothing to transcribe"
)

// ErrBusy is returned when a run is requested while another is active.
var ErrBusy = errors.New("transcription already running")

// Request carries the arguments of a transcribe call. They are written to
// the session before the run starts.
type Request struct {
	PathWav    string
	PathModel  string
	Language   string
	Translate  bool
	OffsetMS   int64
	DurationMS int64
}

// Driver runs the engine over the session's audio and streams segments on
// the whisper channel.
type Driver struct {
	Engine    Engine
	Store     *session.Store
	Publisher events.Publisher
	Logger    *zap.Logger

	Threads int
	// SilenceGate skips the engine for audio below the silence threshold.
	SilenceGate bool

	running sync.Mutex
}

// Transcribe applies req to the session and runs it.
func (d *Driver) Transcribe(ctx context.Context, runID string, req Request) error {
	if !d.running.TryLock() {
		return d.refuse(runID)
	}
	defer d.running.Unlock()

	d.begin(&req)
	return d.run(ctx, runID)
}

// Launch claims the run slot before returning and transcribes in the
// background. A nil req runs with the current session settings. The
// returned channel yields the run's result once.
func (d *Driver) Launch(ctx context.Context, runID string, req *Request) (<-chan error, error) {
	if !d.running.TryLock() {
		return nil, d.refuse(runID)
	}
	d.begin(req)

	done := make(chan error, 1)
	go func() {
		defer d.running.Unlock()
		done <- d.run(ctx, runID)
	}()
	return done, nil
}

// begin marks the session as transcribing before req is written to it, so
// observers never see the new arguments on an idle session.
func (d *Driver) begin(req *Request) {
	d.Store.SetStatus(session.StatusTranscribing)
	if req == nil {
		return
	}
	d.Store.SetPathWav(req.PathWav)
	d.Store.SetPathModel(req.PathModel)
	d.Store.SetLang(req.Language)
	d.Store.SetTranslate(req.Translate)
	d.Store.SetSecStart(int(req.OffsetMS / 1000))
	d.Store.SetSecEnd(int((req.OffsetMS + req.DurationMS) / 1000))
}

// Run transcribes with the current session settings.
func (d *Driver) Run(ctx context.Context, runID string) error {
	if !d.running.TryLock() {
		return d.refuse(runID)
	}
	defer d.running.Unlock()

	d.begin(nil)
	return d.run(ctx, runID)
}

// refuse reports a rejected request on the whisper channel under its own run
// ID. The active run's events are unaffected.
func (d *Driver) refuse(runID string) error {
	if runID == "" {
		runID = events.NewRunID()
	}
	metrics.TranscriptionsTotal.WithLabelValues("busy").Inc()
	d.publish(runID, events.WhisperPayload{Status: events.StatusError, Message: ErrBusy.Error()})
	return ErrBusy
}

func (d *Driver) run(ctx context.Context, runID string) (err error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if runID == "" {
		runID = events.NewRunID()
	}

	defer d.Store.Settle()

	cfg := d.Store.Snapshot()
	logger = logger.With(zap.String("run_id", runID), zap.String("wav", cfg.PathWav), zap.String("model", cfg.PathModel))

	started := time.Now()
	defer func() {
		metrics.TranscriptionsTotal.WithLabelValues(metrics.Result(fault.KindOf(err).String(), err)).Inc()
		if err != nil {
			logger.Warn("transcription failed", zap.Error(err))
			d.publish(runID, events.WhisperPayload{
				Status:  events.StatusError,
				Message: err.Error(),
				Kind:    fault.KindOf(err),
			})
		}
	}()

	sig, err := audio.LoadWAV(cfg.PathWav)
	if err != nil {
		return err
	}

	model, err := d.Engine.Load(ctx, cfg.PathModel)
	if err != nil {
		return asKind(fault.ModelLoad, "load model", err)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil {
			logger.Warn("close model", zap.Error(cerr))
		}
	}()

	state, err := model.NewState()
	if err != nil {
		return asKind(fault.EngineInit, "init engine", err)
	}

	params := NewParams(cfg.Lang, cfg.Translate, int64(cfg.MsOffset()), int64(cfg.MsDuration()))
	params.Threads = d.Threads
	if pr, ok := d.Engine.(PolicyReporter); ok {
		if ignored := pr.Policies().Ignored(params); len(ignored) > 0 {
			logger.Warn("engine ignores decoding policies",
				zap.String("engine", d.Engine.Name()),
				zap.Strings("policies", ignored))
		}
	}

	d.publish(runID, events.WhisperPayload{Status: events.StatusStart, Message: MsgStarted})
	logger.Info("transcription started",
		zap.String("engine", d.Engine.Name()),
		zap.String("language", params.Language),
		zap.Bool("translate", params.Translate),
		zap.Int64("offset_ms", params.OffsetMS),
		zap.Int64("duration_ms", params.DurationMS),
		zap.Float64("audio_seconds", sig.Duration()),
	)

	if cfg.SecEnd < cfg.SecStart {
		d.finish(runID, MsgEmptyWindow)
		return nil
	}
	if d.SilenceGate {
		if silent, levels := audio.IsSilent(sig.Samples, audio.DefaultSilenceThresholdDBFS); silent {
			logger.Info("skipping silent audio", zap.Float64("rms_dbfs", levels.RMSdBFS), zap.Float64("peak_dbfs", levels.PeakdBFS))
			d.finish(runID, MsgSilent)
			return nil
		}
	}

	// The callback may fire on an engine-owned goroutine. It only reaches the
	// publisher captured here, and stops forwarding once Full has returned or
	// the run was canceled.
	pub := d.Publisher
	var closed atomic.Bool
	var segments atomic.Int64
	onSegment := func(seg Segment) {
		if closed.Load() || ctx.Err() != nil {
			return
		}
		segments.Add(1)
		metrics.SegmentsTotal.Inc()
		logger.Debug("segment",
			zap.Int("index", seg.Index),
			zap.Int64("start_ms", seg.StartMS),
			zap.Int64("end_ms", seg.EndMS),
			zap.String("text", seg.Text),
		)
		if pub != nil {
			pub.Publish(events.ChannelWhisper, runID, events.WhisperPayload{
				Status:      events.StatusProgress,
				StartMS:     seg.StartMS,
				EndMS:       seg.EndMS,
				Index:       seg.Index,
				SpeakerTurn: seg.SpeakerTurn,
				Message:     seg.Text,
			})
		}
	}

	runStarted := time.Now()
	err = state.Full(ctx, params, sig.Samples, onSegment)
	closed.Store(true)
	metrics.TranscriptionDuration.Observe(time.Since(runStarted).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return asKind(fault.EngineRun, "run engine", err)
	}

	logger.Info("transcription finished",
		zap.Int64("segments", segments.Load()),
		zap.Duration("elapsed", time.Since(started)),
	)
	d.finish(runID, MsgFinished)
	return nil
}

func (d *Driver) finish(runID, msg string) {
	d.publish(runID, events.WhisperPayload{Status: events.StatusFinished, Message: msg})
}

func (d *Driver) publish(runID string, payload events.WhisperPayload) {
	if d.Publisher == nil {
		return
	}
	d.Publisher.Publish(events.ChannelWhisper, runID, payload)
}

// asKind keeps an existing classification and tags anything else with kind.
func asKind(kind fault.Kind, op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.New(kind, op, err)
}
