// Package whisper integrates the whisper.cpp recognition engine: engine
// backends, the model catalog, and the driver that streams segments onto the
// event bus.
package whisper

import "context"

// MaxInitialTimestamp bounds the first timestamp the decoder may emit, in
// seconds.
const MaxInitialTimestamp = 3.0

// Params configures one engine run.
type Params struct {
	Language  string
	Translate bool
	// OffsetMS and DurationMS select the window; DurationMS 0 runs to the end
	// of the audio.
	OffsetMS   int64
	DurationMS int64

	Diarize           bool
	SuppressNonSpeech bool
	MaxInitialTS      float32
	Threads           int
}

// NewParams returns the run configuration with the fixed engine policies:
// greedy decoding, speaker-turn diarization, non-speech suppression and the
// initial timestamp bound.
func NewParams(language string, translate bool, offsetMS, durationMS int64) Params {
	return Params{
		Language:          language,
		Translate:         translate,
		OffsetMS:          offsetMS,
		DurationMS:        durationMS,
		Diarize:           true,
		SuppressNonSpeech: true,
		MaxInitialTS:      MaxInitialTimestamp,
	}
}

// Policies names the fixed decoding policies of Params that an engine
// actually honors.
type Policies struct {
	Diarize           bool
	SuppressNonSpeech bool
	MaxInitialTS      bool
}

// PolicyReporter is implemented by engines that cannot apply every policy.
type PolicyReporter interface {
	Policies() Policies
}

// Ignored lists the policies requested by p that pol does not honor.
func (pol Policies) Ignored(p Params) []string {
	var out []string
	if p.Diarize && !pol.Diarize {
		out = append(out, "diarize")
	}
	if p.SuppressNonSpeech && !pol.SuppressNonSpeech {
		out = append(out, "suppress_non_speech")
	}
	if p.MaxInitialTS > 0 && !pol.MaxInitialTS {
		out = append(out, "max_initial_ts")
	}
	return out
}

// Segment is one finalized span of recognized speech.
type Segment struct {
	Index       int
	StartMS     int64
	EndMS       int64
	Text        string
	SpeakerTurn bool
}

// SegmentFunc receives segments as the engine finalizes them. It may be
// called from a goroutine other than the one that called Full.
type SegmentFunc func(Segment)

// Engine loads models.
type Engine interface {
	Name() string
	Load(ctx context.Context, modelPath string) (Model, error)
}

// Model is a loaded model; states created from it share its weights.
type Model interface {
	NewState() (State, error)
	Close() error
}

// State runs inference. Full blocks until all audio in the window was
// processed and never calls onSegment after it returns.
type State interface {
	Full(ctx context.Context, p Params, samples []float32, onSegment SegmentFunc) error
}
