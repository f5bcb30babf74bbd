package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/acknak/pothook/internal/fault"
)

// FFmpeg locates the external tools used for containers without a native
// demuxer. Empty paths disable the fallback.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// Available reports whether both tools resolve on PATH or as given.
func (f FFmpeg) Available() bool {
	if strings.TrimSpace(f.FFmpegPath) == "" || strings.TrimSpace(f.FFprobePath) == "" {
		return false
	}
	if _, err := exec.LookPath(f.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(f.FFprobePath)
	return err == nil
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type ffmpegDemuxer struct {
	ctx    context.Context
	tools  FFmpeg
	path   string
	tracks []Track

	selected int
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   bytes.Buffer
	raw      []byte
	samples  []float32
	pos      int64
	drained  bool
}

func openFFmpeg(ctx context.Context, tools FFmpeg, path string) (Demuxer, error) {
	cmd := exec.CommandContext(ctx, tools.FFprobePath,
		"-v", "error", "-print_format", "json", "-show_streams", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.New(fault.UnsupportedFormat, "probe ffprobe",
			fmt.Errorf("%w (%s)", err, strings.TrimSpace(stderr.String())))
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fault.New(fault.UnsupportedFormat, "probe ffprobe", fmt.Errorf("parse output: %w", err))
	}

	tracks := make([]Track, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		t := Track{ID: s.Index, Codec: CodecNull}
		if s.CodecType == "audio" {
			// ffmpeg decodes whatever it recognizes into f32le.
			t.Codec = codecPCMF32
			t.Channels = s.Channels
			t.SampleRate, _ = strconv.Atoi(s.SampleRate)
		}
		tracks = append(tracks, t)
	}

	return &ffmpegDemuxer{ctx: ctx, tools: tools, path: path, tracks: tracks, selected: -1}, nil
}

func (d *ffmpegDemuxer) Tracks() []Track {
	return d.tracks
}

func (d *ffmpegDemuxer) track(id int) (Track, bool) {
	for _, t := range d.tracks {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

func (d *ffmpegDemuxer) Select(trackID int) error {
	t, ok := d.track(trackID)
	if !ok || t.Codec == CodecNull {
		return fault.Newf(fault.UnsupportedCodec, "select track", "stream %d is not decodable audio", trackID)
	}
	d.selected = trackID
	d.raw = make([]byte, packetFrames*t.Channels*4)
	d.samples = make([]float32, packetFrames*t.Channels)
	return d.start()
}

func (d *ffmpegDemuxer) start() error {
	d.stop()
	args := []string{
		"-v", "error", "-nostdin",
		"-i", d.path,
		"-map", fmt.Sprintf("0:%d", d.selected),
		"-f", "f32le", "-acodec", "pcm_f32le", "-",
	}
	cmd := exec.CommandContext(d.ctx, d.tools.FFmpegPath, args...)
	d.stderr.Reset()
	cmd.Stderr = &d.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.New(fault.IO, "start ffmpeg", err)
	}
	if err := cmd.Start(); err != nil {
		return fault.New(fault.IO, "start ffmpeg", err)
	}
	d.cmd = cmd
	d.stdout = stdout
	d.pos = 0
	d.drained = false
	return nil
}

func (d *ffmpegDemuxer) NextPacket() (Packet, error) {
	if d.drained {
		return Packet{}, ErrEndOfStream
	}
	if d.cmd == nil {
		return Packet{}, fault.Newf(fault.DecodeStream, "read ffmpeg", "no track selected")
	}
	t, _ := d.track(d.selected)
	frameBytes := t.Channels * 4

	n, err := io.ReadFull(d.stdout, d.raw)
	frames := n / frameBytes
	if frames == 0 {
		if err == nil || isEndOfStream(err) {
			return Packet{}, d.finish()
		}
		return Packet{}, err
	}

	count := frames * t.Channels
	for i := 0; i < count; i++ {
		d.samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(d.raw[i*4:]))
	}
	p := Packet{TrackID: t.ID, TS: d.pos, Dur: int64(frames), data: d.samples[:count]}
	d.pos += int64(frames)
	return p, nil
}

// finish reaps the process once stdout is drained so a failing ffmpeg is
// reported instead of looking like a short stream.
func (d *ffmpegDemuxer) finish() error {
	cmd := d.cmd
	d.cmd = nil
	if err := cmd.Wait(); err != nil {
		if d.ctx.Err() != nil {
			return d.ctx.Err()
		}
		return fault.New(fault.DecodeStream, "decode ffmpeg",
			fmt.Errorf("%w (%s)", err, strings.TrimSpace(d.stderr.String())))
	}
	d.drained = true
	return ErrEndOfStream
}

func (d *ffmpegDemuxer) SeekStart(trackID int) error {
	if trackID != d.selected {
		return fault.Newf(fault.DecodeStream, "seek ffmpeg", "stream %d is not selected", trackID)
	}
	return d.start()
}

func (d *ffmpegDemuxer) stop() {
	if d.cmd == nil {
		return
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd = nil
}

func (d *ffmpegDemuxer) Close() error {
	d.stop()
	return nil
}

var errNoFFmpeg = errors.New("ffmpeg fallback is not configured")
