package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	payload := []byte("pothook")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.NoError(t, VerifyFileChecksum(path, digest(payload)))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.ErrorIs(t, VerifyFileChecksum(path, "deadbeef"), ErrChecksumMismatch)
}

func TestFetchWritesVerifiedFile(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("ggml"), 1024)
	var agent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "nested", "ggml-tiny.bin")
	var progress bytes.Buffer
	f := &Fetcher{Retries: 1, Progress: &progress}
	require.NoError(t, f.Fetch(context.Background(), Request{URL: server.URL, Destination: destination, SHA256: digest(payload)}))

	onDisk, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
	require.NoFileExists(t, destination+".part")
	require.Equal(t, userAgent, agent.Load())
}

func TestFetchChecksumMismatchIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	f := &Fetcher{Retries: 3, Backoff: time.Millisecond}
	err := f.Fetch(context.Background(), Request{URL: server.URL, Destination: destination, SHA256: digest([]byte("original"))})
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.EqualValues(t, 1, hits.Load())
	require.NoFileExists(t, destination)
	require.NoFileExists(t, destination+".part")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	f := &Fetcher{Retries: 3, Backoff: time.Millisecond}
	require.NoError(t, f.Fetch(context.Background(), Request{URL: server.URL, Destination: destination}))
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := &Fetcher{Retries: 3, Backoff: time.Millisecond}
	err := f.Fetch(context.Background(), Request{URL: server.URL, Destination: filepath.Join(t.TempDir(), "m.bin")})
	require.ErrorContains(t, err, "404")
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	require.Error(t, f.Fetch(context.Background(), Request{Destination: "x"}))
	require.Error(t, f.Fetch(context.Background(), Request{URL: "http://example.invalid"}))
}
