package audio

import (
	"context"
	"time"

	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/fault"
	"github.com/acknak/pothook/internal/metrics"
	"go.uber.org/zap"
)

// Messages carried by audio_conv events.
const (
	MsgConverting = "converting media to analysis audio"
	MsgWriting    = "writing audio"
	MsgFinished   = "analysis audio file created"
)

// Converter runs the normalization pipeline: decode, resample to 16 kHz and
// encode a canonical WAV, reporting on the audio_conv channel.
type Converter struct {
	Decoder   Decoder
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Convert normalizes in into out. runID correlates the published events; an
// empty runID gets a fresh one. Every failure publishes exactly one error
// event before returning.
func (c *Converter) Convert(ctx context.Context, runID, in, out string) (err error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if runID == "" {
		runID = events.NewRunID()
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("input", in), zap.String("output", out))

	started := time.Now()
	defer func() {
		metrics.ConversionsTotal.WithLabelValues(metrics.Result(fault.KindOf(err).String(), err)).Inc()
		metrics.ConversionDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			logger.Warn("conversion failed", zap.Error(err))
			c.publish(runID, events.ConvPayload{
				Status:  events.StatusError,
				Message: err.Error(),
				Kind:    fault.KindOf(err),
			})
			return
		}
		logger.Info("conversion finished", zap.Duration("elapsed", time.Since(started)))
	}()

	sig, err := c.Decoder.Decode(ctx, in, Hooks{
		OnStart: func(track Track) {
			logger.Info("conversion started",
				zap.String("codec", track.Codec),
				zap.Int("sample_rate", track.SampleRate),
				zap.Int("channels", track.Channels),
			)
			c.publish(runID, events.ConvPayload{Status: events.StatusStart, Message: MsgConverting})
		},
		OnProgress: func(fraction float32) {
			c.publish(runID, events.ConvPayload{Status: events.StatusProgress, Progress: fraction})
		},
	})
	if err != nil {
		return err
	}

	c.publish(runID, events.ConvPayload{Status: events.StatusIndeterminate, Message: MsgWriting})

	resampled, err := Resample(ctx, sig, TargetSampleRate)
	if err != nil {
		return err
	}
	logger.Debug("resampled",
		zap.Int("source_rate", sig.SampleRate),
		zap.Int("source_samples", len(sig.Samples)),
		zap.Int("samples", len(resampled.Samples)),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := EncodeWAV(out, resampled); err != nil {
		return err
	}

	c.publish(runID, events.ConvPayload{Status: events.StatusFinished, Progress: 1, Message: MsgFinished})
	return nil
}

func (c *Converter) publish(runID string, payload events.ConvPayload) {
	if c.Publisher == nil {
		return
	}
	c.Publisher.Publish(events.ChannelAudioConv, runID, payload)
}
