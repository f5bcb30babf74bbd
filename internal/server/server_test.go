package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/session"
	"github.com/acknak/pothook/internal/transcript"
	"github.com/acknak/pothook/internal/whisper"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	defaultWait = 5 * time.Second
	tick        = 10 * time.Millisecond
)

type fakeEngine struct {
	release  chan struct{}
	segments []whisper.Segment

	mu   sync.Mutex
	runs int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Load(context.Context, string) (whisper.Model, error) {
	return fakeModel{f}, nil
}

type fakeModel struct{ f *fakeEngine }

func (m fakeModel) NewState() (whisper.State, error) { return fakeState(m), nil }
func (m fakeModel) Close() error                     { return nil }

type fakeState struct{ f *fakeEngine }

func (s fakeState) Full(ctx context.Context, _ whisper.Params, _ []float32, onSegment whisper.SegmentFunc) error {
	s.f.mu.Lock()
	s.f.runs++
	s.f.mu.Unlock()
	if s.f.release != nil {
		select {
		case <-s.f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, seg := range s.f.segments {
		onSegment(seg)
	}
	return nil
}

func (f *fakeEngine) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fixture struct {
	server *httptest.Server
	store  *session.Store
	bus    *events.Bus
	engine *fakeEngine
	coll   *transcript.Collector
}

func newFixture(t *testing.T, engine *fakeEngine) *fixture {
	t.Helper()
	bus := events.NewBus(64, 256, nil)
	store := session.NewStore(bus)
	coll := transcript.NewCollector(store)

	sub, cancelSub := bus.Subscribe(events.ChannelWhisper)
	ctx, stop := context.WithCancel(context.Background())
	go coll.Follow(ctx, sub)

	srv := New("127.0.0.1:0", Deps{
		Store:      store,
		Bus:        bus,
		Converter:  &audio.Converter{Publisher: bus},
		Driver:     &whisper.Driver{Engine: engine, Store: store, Publisher: bus},
		Transcript: coll,
		ModelDir:   t.TempDir(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
		stop()
		cancelSub()
	})
	return &fixture{server: ts, store: store, bus: bus, engine: engine, coll: coll}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func writeWAV(t *testing.T, rate int, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	n := int(seconds * float64(rate))
	data := make([]int, n)
	for i := range data {
		data[i] = int(0.4 * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	resp, body := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"ok"`)
	require.Contains(t, string(body), `"go_version"`)
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})

	resp, body := f.do(t, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg session.Config
	require.NoError(t, json.Unmarshal(body, &cfg))
	require.Equal(t, session.DefaultConfig(), cfg)

	resp, body = f.do(t, http.MethodPut, "/api/v1/session/lang", `{"value":"en"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &cfg))
	require.Equal(t, "en", cfg.Lang)
	require.Equal(t, "en", f.store.Snapshot().Lang)

	resp, body = f.do(t, http.MethodPut, "/api/v1/session/volume", `{"value":"11"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), "secStart")

	resp, _ = f.do(t, http.MethodPut, "/api/v1/session/lang", `{"value":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})

	canonical := writeWAV(t, 16000, 0.1)
	resp, body := f.do(t, http.MethodPost, "/api/v1/check", `{"path":`+jsonString(canonical)+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"ok":true`)

	other := writeWAV(t, 44100, 0.1)
	resp, body = f.do(t, http.MethodPost, "/api/v1/check", `{"path":`+jsonString(other)+`}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var got checkResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.False(t, got.OK)
	require.Equal(t, "unsupported_format", got.Kind)
	require.Equal(t, 44100, got.Format.SampleRate)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/check", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertRunsInBackground(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	sub, cancel := f.bus.Subscribe(events.ChannelAudioConv)
	defer cancel()

	in := writeWAV(t, 44100, 0.5)
	out := filepath.Join(t.TempDir(), "out.wav")
	resp, body := f.do(t, http.MethodPost, "/api/v1/convert",
		`{"input":`+jsonString(in)+`,"output":`+jsonString(out)+`,"use_for_session":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var run runResponse
	require.NoError(t, json.Unmarshal(body, &run))
	require.NotEmpty(t, run.RunID)

	waitForStatus(t, sub, run.RunID, events.StatusFinished)
	require.NoError(t, audio.CheckFormat(out))
	require.Eventually(t, func() bool { return f.store.Snapshot().PathWav == out }, defaultWait, tick)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/convert", `{"input":"a.wav"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		release: make(chan struct{}),
		segments: []whisper.Segment{
			{Index: 0, StartMS: 0, EndMS: 1200, Text: "hello"},
			{Index: 1, StartMS: 1200, EndMS: 2500, Text: "there"},
		},
	}
	f := newFixture(t, engine)
	wav := writeWAV(t, 16000, 0.5)
	body := `{"path_wav":` + jsonString(wav) + `,"path_model":"/models/custom.bin","duration_ms":10000}`

	resp, _ := f.do(t, http.MethodPost, "/api/v1/transcribe", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return engine.runCount() == 1 }, defaultWait, tick)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/transcribe", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	close(engine.release)
	require.Eventually(t, f.coll.Done, defaultWait, tick)

	resp, raw := f.do(t, http.MethodGet, "/api/v1/transcript", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got transcriptResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	require.True(t, got.Done)
	require.Len(t, got.Segments, 2)
	require.Equal(t, 20, got.Percent)
	require.Equal(t, "[00:00:00.000 --> 00:00:01.200] hello\n[00:00:01.200 --> 00:00:02.500] there", got.Text)

	_, raw = f.do(t, http.MethodGet, "/api/v1/transcript?format=srt", "")
	require.True(t, strings.HasPrefix(string(raw), "1\n00:00:00,000 --> 00:00:01,200\nhello\n"))

	require.Eventually(t, func() bool { return f.store.Snapshot().Status == session.StatusStandBy }, defaultWait, tick)
}

func TestTranscribeUnknownCatalogModelNeedsSetup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	resp, body := f.do(t, http.MethodPost, "/api/v1/transcribe", `{"path_wav":"x.wav","path_model":"tiny"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "pothook setup")
}

func TestModelsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	resp, body := f.do(t, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []modelEntry
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, len(whisper.Catalog()))
	require.False(t, got[0].Downloaded)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	f.do(t, http.MethodGet, "/api/v1/session", "")
	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "pothook_http_requests_total")
}

func TestEventStreamReplaysSince(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	f.bus.Publish(events.ChannelWhisper, "r", events.WhisperPayload{Status: events.StatusStart})
	replay := f.bus.ReplaySince(0, events.ChannelWhisper)
	require.NotEmpty(t, replay)
	since := replay[len(replay)-1].Seq - 1

	ctx, cancel := context.WithTimeout(context.Background(), defaultWait)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.server.URL+"/api/v1/events?channels=whisper&since="+itoa(since), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	frame := readSSEFrame(t, reader)
	require.Contains(t, frame, "event: whisper")
	require.Contains(t, frame, `"status":"start"`)

	f.bus.Publish(events.ChannelAudioConv, "c", events.ConvPayload{Status: events.StatusStart})
	f.bus.Publish(events.ChannelWhisper, "r", events.WhisperPayload{Status: events.StatusFinished})
	frame = readSSEFrame(t, reader)
	require.Contains(t, frame, `"status":"finished"`)
}

func TestWebsocketStreamsAndAcceptsCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws?channels=config"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsCommand{Op: "set", Field: "secEnd", Value: "42"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(defaultWait)))
	var ev struct {
		Channel string         `json:"channel"`
		Payload session.Config `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, events.ChannelConfig, ev.Channel)
	require.Equal(t, 42, ev.Payload.SecEnd)

	require.NoError(t, conn.WriteJSON(wsCommand{Op: "launch"}))
	var reply wsReply
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "launch", reply.Op)
	require.Contains(t, reply.Error, "unknown op")
}

func TestStreamFilterResumePoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		lastID     string
		wantSince  uint64
		wantResume bool
	}{
		{name: "live only", target: "/events"},
		{name: "since zero replays everything", target: "/events?since=0", wantResume: true},
		{name: "since overrides header", target: "/events?since=7", lastID: "3", wantSince: 7, wantResume: true},
		{name: "header zero", target: "/events", lastID: "0", wantResume: true},
		{name: "garbage ignored", target: "/events?since=abc"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sep := "?"
			if strings.Contains(tt.target, "?") {
				sep = "&"
			}
			r := httptest.NewRequest(http.MethodGet, tt.target+sep+"channels=whisper,config", nil)
			if tt.lastID != "" {
				r.Header.Set("Last-Event-ID", tt.lastID)
			}
			channels, since, resume := streamFilter(r)
			require.Equal(t, []string{"whisper", "config"}, channels)
			require.Equal(t, tt.wantSince, since)
			require.Equal(t, tt.wantResume, resume)
		})
	}
}

func TestWebsocketReplaysFromZero(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeEngine{})
	f.bus.Publish(events.ChannelWhisper, "early", events.WhisperPayload{Status: events.StatusStart})

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws?channels=whisper"
	header := http.Header{}
	header.Set("Last-Event-ID", "0")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(defaultWait)))
	var ev struct {
		Channel string `json:"channel"`
		RunID   string `json:"run_id"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, events.ChannelWhisper, ev.Channel)
	require.Equal(t, "early", ev.RunID)
}

func waitForStatus(t *testing.T, sub <-chan events.Event, runID, status string) {
	t.Helper()
	timeout := time.After(defaultWait)
	for {
		select {
		case ev := <-sub:
			p, ok := ev.Payload.(events.ConvPayload)
			if !ok || ev.RunID != runID {
				continue
			}
			require.NotEqual(t, events.StatusError, p.Status, p.Message)
			if p.Status == status {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", status)
		}
	}
}

func readSSEFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			if buf.Len() == 0 || strings.HasPrefix(buf.String(), ":") {
				buf.Reset()
				continue
			}
			return buf.String()
		}
		buf.WriteString(line)
	}
}

func jsonString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func itoa(n uint64) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
