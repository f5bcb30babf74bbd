package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/acknak/pothook/internal/fault"
)

// Container names returned by sniffContainer.
const (
	containerWAV     = "wav"
	containerMP3     = "mp3"
	containerFLAC    = "flac"
	containerOgg     = "ogg"
	containerUnknown = ""
)

var extensionHints = map[string]string{
	".wav":  containerWAV,
	".wave": containerWAV,
	".mp3":  containerMP3,
	".flac": containerFLAC,
	".ogg":  containerOgg,
	".oga":  containerOgg,
}

// sniffContainer identifies a container from its leading bytes, falling back
// to the file extension when the content is not conclusive.
func sniffContainer(head []byte, path string) string {
	switch {
	case len(head) >= 12 && (bytes.HasPrefix(head, []byte("RIFF")) || bytes.HasPrefix(head, []byte("RF64"))) &&
		bytes.Equal(head[8:12], []byte("WAVE")):
		return containerWAV
	case bytes.HasPrefix(head, []byte("fLaC")):
		return containerFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return containerOgg
	case bytes.HasPrefix(head, []byte("ID3")):
		return containerMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return containerMP3
	}
	return extensionHints[strings.ToLower(filepath.Ext(path))]
}

// Probe opens path with the first demuxer able to read it. Containers without
// a native demuxer, and native opens failing on format or codec grounds, are
// retried through ffmpeg when tools is usable.
func Probe(ctx context.Context, path string, tools FFmpeg) (Demuxer, error) {
	head, err := readHead(path, 16)
	if err != nil {
		return nil, fault.New(fault.IO, "open media", err)
	}

	var open func(string) (Demuxer, error)
	switch sniffContainer(head, path) {
	case containerWAV:
		open = openWAV
	case containerMP3:
		open = openMP3
	case containerFLAC:
		open = openFLAC
	case containerOgg:
		open = openOgg
	}

	if open != nil {
		d, err := open(path)
		if err == nil {
			return d, nil
		}
		kind := fault.KindOf(err)
		if kind != fault.UnsupportedFormat && kind != fault.UnsupportedCodec {
			return nil, err
		}
		if !tools.Available() {
			return nil, err
		}
		return openFFmpeg(ctx, tools, path)
	}

	if !tools.Available() {
		return nil, fault.New(fault.UnsupportedFormat, "probe media",
			fmt.Errorf("unrecognized container for %s: %w", filepath.Base(path), errNoFFmpeg))
	}
	return openFFmpeg(ctx, tools, path)
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:read], nil
}

// selectTrack returns the first track with a recognized codec.
func selectTrack(tracks []Track) (Track, error) {
	for _, t := range tracks {
		if t.Codec != CodecNull {
			return t, nil
		}
	}
	return Track{}, fault.Newf(fault.UnsupportedFormat, "select track", "no audio track among %d streams", len(tracks))
}
