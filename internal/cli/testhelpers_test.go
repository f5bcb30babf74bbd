package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/acknak/pothook/internal/config"
	"github.com/acknak/pothook/internal/whisper"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--no-progress"}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// testApp is an initialized app writing to buffers, with defaults from an
// empty environment file.
func testApp(t *testing.T) (*appState, *bytes.Buffer) {
	t.Helper()
	out := new(bytes.Buffer)
	cfg, err := config.Load(config.Overrides{EnvFile: filepath.Join(t.TempDir(), "none.env"), ModelDir: t.TempDir()})
	require.NoError(t, err)
	return &appState{
		cfg:        cfg,
		logger:     zap.NewNop(),
		out:        out,
		errOut:     new(bytes.Buffer),
		noProgress: true,
	}, out
}

// writeToneWAV writes a 16-bit PCM WAV of a 440 Hz tone.
func writeToneWAV(t *testing.T, dir string, rate, channels int, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	frames := int(seconds * float64(rate))
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(0.4 * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for ch := 0; ch < channels; ch++ {
			data = append(data, v)
		}
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

// writeModel writes a file with the ggml magic, enough for model lookup.
func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	require.NoError(t, os.WriteFile(path, append([]byte("lmgg"), make([]byte, 64)...), 0o644))
	return path
}

type fakeEngine struct {
	segments []whisper.Segment
	runErr   error

	mu       sync.Mutex
	params   []whisper.Params
	nSamples int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Load(context.Context, string) (whisper.Model, error) {
	return &fakeModel{f: f}, nil
}

type fakeModel struct{ f *fakeEngine }

func (m *fakeModel) NewState() (whisper.State, error) { return m, nil }
func (m *fakeModel) Close() error                     { return nil }

func (m *fakeModel) Full(_ context.Context, p whisper.Params, samples []float32, onSegment whisper.SegmentFunc) error {
	m.f.mu.Lock()
	m.f.params = append(m.f.params, p)
	m.f.nSamples = len(samples)
	m.f.mu.Unlock()
	for _, seg := range m.f.segments {
		onSegment(seg)
	}
	return m.f.runErr
}

func (f *fakeEngine) lastParams() whisper.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

func withEngine(app *appState, engine whisper.Engine) {
	app.engineFn = func(*config.Config, *zap.Logger) (whisper.Engine, error) { return engine, nil }
}
