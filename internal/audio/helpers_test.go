package audio

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/acknak/pothook/internal/events"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	channel string
	runID   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(channel, runID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{channel: channel, runID: runID, payload: payload})
}

func (r *recorder) convStatuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if p, ok := e.payload.(events.ConvPayload); ok {
			out = append(out, p.Status)
		}
	}
	return out
}

func (r *recorder) convPayloads() []events.ConvPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.ConvPayload
	for _, e := range r.events {
		if p, ok := e.payload.(events.ConvPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// makePCM16WAV writes interleaved int16 frames as a PCM WAV.
func makePCM16WAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

// sineFrames returns seconds of a sine at freq Hz and amplitude amp,
// duplicated across channels.
func sineFrames(sampleRate, channels int, seconds, freq, amp float64) []int {
	frames := int(seconds * float64(sampleRate))
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			data = append(data, v)
		}
	}
	return data
}

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
