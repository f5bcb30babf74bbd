package audio

import (
	"context"
	"errors"
	"time"

	"github.com/acknak/pothook/internal/fault"
	"go.uber.org/zap"
)

const minProgressInterval = 1000

// Hooks receive decoder lifecycle notifications. Nil hooks are skipped.
type Hooks struct {
	// OnStart fires once a track is selected, before either pass runs.
	OnStart func(track Track)
	// OnProgress fires at coarse checkpoints with the fraction of frames
	// already placed.
	OnProgress func(fraction float32)
}

// Decoder turns a media file into a mono Signal at its native rate.
type Decoder struct {
	FFmpeg FFmpeg
	Logger *zap.Logger
}

// Decode runs the duration pass and then the fill pass over the first
// decodable track of path. Frames no packet covers stay silent.
func (d *Decoder) Decode(ctx context.Context, path string, hooks Hooks) (Signal, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	demux, err := Probe(ctx, path, d.FFmpeg)
	if err != nil {
		return Signal{}, err
	}
	defer demux.Close()

	track, err := selectTrack(demux.Tracks())
	if err != nil {
		return Signal{}, err
	}
	codec, err := newCodec(track)
	if err != nil {
		return Signal{}, err
	}
	if track.SampleRate <= 0 {
		return Signal{}, fault.Newf(fault.UnsupportedFormat, "select track", "track %d reports no sample rate", track.ID)
	}
	if err := demux.Select(track.ID); err != nil {
		return Signal{}, err
	}

	if hooks.OnStart != nil {
		hooks.OnStart(track)
	}

	started := time.Now()
	total, err := countFrames(ctx, demux, track.ID)
	if err != nil {
		return Signal{}, err
	}
	logger.Debug("duration pass complete",
		zap.String("path", path),
		zap.String("codec", track.Codec),
		zap.Int("sample_rate", track.SampleRate),
		zap.Int("channels", track.Channels),
		zap.Int64("frames", total),
		zap.Duration("elapsed", time.Since(started)),
	)

	if total == 0 {
		return Signal{Samples: []float32{}, SampleRate: track.SampleRate}, nil
	}

	if err := demux.SeekStart(track.ID); err != nil {
		return Signal{}, wrapStream("seek start", err)
	}

	samples := make([]float32, total)
	if err := fill(ctx, demux, codec, track.ID, samples, hooks.OnProgress); err != nil {
		return Signal{}, err
	}
	return Signal{Samples: samples, SampleRate: track.SampleRate}, nil
}

// countFrames returns the largest ts+dur among the packets of trackID.
func countFrames(ctx context.Context, demux Demuxer, trackID int) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p, err := demux.NextPacket()
		if err != nil {
			if isEndOfStream(err) {
				return total, nil
			}
			return 0, wrapStream("count frames", err)
		}
		if p.TrackID != trackID {
			continue
		}
		if end := p.TS + p.Dur; end > total {
			total = end
		}
	}
}

func fill(ctx context.Context, demux Demuxer, codec Codec, trackID int, dst []float32, onProgress func(float32)) error {
	total := int64(len(dst))
	interval := total / 200
	if interval < minProgressInterval {
		interval = minProgressInterval
	}
	var next int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := demux.NextPacket()
		if err != nil {
			if isEndOfStream(err) {
				return nil
			}
			return wrapStream("read packet", err)
		}
		if p.TrackID != trackID {
			continue
		}

		buf, err := codec.Decode(p)
		if err != nil {
			if isEndOfStream(err) || errors.Is(err, ErrDecoderExhausted) {
				return nil
			}
			return wrapStream("decode packet", err)
		}
		downmixInto(dst, p.TS, buf)

		if onProgress != nil && p.TS >= next {
			onProgress(float32(p.TS) / float32(total))
			next = (p.TS/interval + 1) * interval
		}
	}
}

// wrapStream classifies err as DecodeStream unless it already carries a kind
// or is a context error.
func wrapStream(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fault.New(fault.DecodeStream, op, err)
}
