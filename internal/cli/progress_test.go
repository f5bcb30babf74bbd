package cli

import (
	"bytes"
	"testing"

	"github.com/acknak/pothook/internal/events"
	"github.com/stretchr/testify/require"
)

func TestStartSpinnerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	stop := startSpinner(buf, false, "Transcribing...")
	stop()
	stop()
	require.Empty(t, buf.String())
}

func TestStartSpinnerEnabledStopsIdempotently(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	stop := startSpinner(buf, true, "Transcribing...")
	stop()
	stop()
}

func TestProgressViewDisabledWritesNothing(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	view := newProgressView(buf, false)
	view.Set("converting", 0.5)
	view.Spin("decoding")
	view.Stop()
	require.Empty(t, buf.String())
}

func TestProgressViewSwitchesPhases(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	view := newProgressView(buf, true)
	view.Set("converting", 0.25)
	require.NotNil(t, view.bar)
	view.Spin("decoding")
	require.Nil(t, view.bar)
	require.NotNil(t, view.spin)
	view.Set("converting", 2)
	require.Nil(t, view.spin)
	view.Stop()
	require.Nil(t, view.bar)
	require.NotEmpty(t, buf.String())
}

func TestClampFraction(t *testing.T) {
	t.Parallel()

	require.Equal(t, float32(0), clampFraction(-1))
	require.Equal(t, float32(0.5), clampFraction(0.5))
	require.Equal(t, float32(1), clampFraction(3))
}

func TestWatchConversionEndsOnFinish(t *testing.T) {
	t.Parallel()

	sub := make(chan events.Event, 4)
	sub <- events.Event{Channel: events.ChannelAudioConv, RunID: "other", Payload: events.ConvPayload{Status: events.StatusFinished}}
	sub <- events.Event{Channel: events.ChannelAudioConv, RunID: "r", Payload: events.ConvPayload{Status: events.StatusProgress, Progress: 0.5}}
	sub <- events.Event{Channel: events.ChannelAudioConv, RunID: "r", Payload: events.ConvPayload{Status: events.StatusFinished}}
	sub <- events.Event{Channel: events.ChannelAudioConv, RunID: "r", Payload: events.ConvPayload{Status: events.StatusProgress, Progress: 0.9}}

	watchConversion(sub, "r", newProgressView(new(bytes.Buffer), false))
	require.Len(t, sub, 1)
}

func TestWatchTranscriptionEndsWhenClosed(t *testing.T) {
	t.Parallel()

	sub := make(chan events.Event, 2)
	sub <- events.Event{Channel: events.ChannelWhisper, RunID: "r", Payload: events.WhisperPayload{Status: events.StatusStart}}
	sub <- events.Event{Channel: events.ChannelWhisper, RunID: "r", Payload: events.WhisperPayload{Status: events.StatusProgress, EndMS: 5000}}
	close(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchTranscription(sub, "r", 10, newProgressView(new(bytes.Buffer), false))
	}()
	<-done
}
