package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/acknak/pothook/internal/fault"
	"github.com/stretchr/testify/require"
)

func TestSniffContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head []byte
		path string
		want string
	}{
		{name: "riff wave", head: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), path: "a.bin", want: containerWAV},
		{name: "rf64 wave", head: []byte("RF64\xff\xff\xff\xffWAVEds64"), path: "a", want: containerWAV},
		{name: "riff avi is not wave", head: []byte("RIFF\x00\x00\x00\x00AVI LIST"), path: "a.avi", want: containerUnknown},
		{name: "flac", head: []byte("fLaC\x00\x00\x00\x22"), path: "a", want: containerFLAC},
		{name: "ogg", head: []byte("OggS\x00\x02"), path: "a", want: containerOgg},
		{name: "id3 tagged mp3", head: []byte("ID3\x04\x00"), path: "a", want: containerMP3},
		{name: "bare mpeg frame sync", head: []byte{0xFF, 0xFB, 0x90, 0x64}, path: "a", want: containerMP3},
		{name: "extension hint", head: []byte("????"), path: "clip.FLAC", want: containerFLAC},
		{name: "unknown", head: []byte("????"), path: "movie.mp4", want: containerUnknown},
		{name: "empty file", head: nil, path: "x.wav", want: containerWAV},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, sniffContainer(tc.head, tc.path))
		})
	}
}

func TestSelectTrackSkipsNullCodec(t *testing.T) {
	t.Parallel()

	got, err := selectTrack([]Track{
		{ID: 0, Codec: CodecNull},
		{ID: 1, Codec: codecPCMF32, SampleRate: 48000, Channels: 2},
		{ID: 2, Codec: codecPCMF32, SampleRate: 44100, Channels: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, got.ID)

	_, err = selectTrack([]Track{{ID: 0, Codec: CodecNull}})
	require.Equal(t, fault.UnsupportedFormat, fault.KindOf(err))
}

func TestNewCodecRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := newCodec(Track{Codec: "opus", Channels: 2})
	require.Equal(t, fault.UnsupportedCodec, fault.KindOf(err))

	_, err = newCodec(Track{Codec: codecPCMInt, Channels: 0, BitDepth: 16})
	require.Equal(t, fault.UnsupportedCodec, fault.KindOf(err))

	_, err = newCodec(Track{Codec: codecPCMInt, Channels: 1, BitDepth: 12})
	require.Equal(t, fault.UnsupportedCodec, fault.KindOf(err))
}

func TestDecodeIdentityAt16kMono(t *testing.T) {
	t.Parallel()

	data := sineFrames(16000, 1, 0.5, 440, 0.8)
	path := tempPath(t, "mono16k.wav")
	makePCM16WAV(t, path, 16000, 1, data)

	d := &Decoder{}
	sig, err := d.Decode(context.Background(), path, Hooks{})
	require.NoError(t, err)
	require.Equal(t, 16000, sig.SampleRate)
	require.Len(t, sig.Samples, len(data))

	out, err := Resample(context.Background(), sig, TargetSampleRate)
	require.NoError(t, err)
	for i, v := range data {
		require.InDelta(t, float32(v)/32768, out.Samples[i], 1e-6)
	}
}

func TestDecodeDownmixAveragesChannels(t *testing.T) {
	t.Parallel()

	// Left at +0.5, right at -0.25 full scale.
	frames := 3000
	data := make([]int, 0, frames*2)
	for i := 0; i < frames; i++ {
		data = append(data, 16384, -8192)
	}
	path := tempPath(t, "stereo.wav")
	makePCM16WAV(t, path, 16000, 2, data)

	d := &Decoder{}
	sig, err := d.Decode(context.Background(), path, Hooks{})
	require.NoError(t, err)
	require.Len(t, sig.Samples, frames)
	for _, s := range sig.Samples {
		require.InDelta(t, 0.125, s, 1e-6)
	}
}

func TestDecodeHooks(t *testing.T) {
	t.Parallel()

	path := tempPath(t, "tone.wav")
	makePCM16WAV(t, path, 8000, 1, sineFrames(8000, 1, 3, 200, 0.5))

	var started Track
	var fractions []float32
	d := &Decoder{}
	_, err := d.Decode(context.Background(), path, Hooks{
		OnStart:    func(tr Track) { started = tr },
		OnProgress: func(f float32) { fractions = append(fractions, f) },
	})
	require.NoError(t, err)
	require.Equal(t, 8000, started.SampleRate)
	require.Equal(t, 1, started.Channels)
	require.NotEmpty(t, fractions)
	require.Equal(t, float32(0), fractions[0])
	// 24000 frames checkpointed every 1000 frames.
	require.Len(t, fractions, 24)
}

type scriptedDemuxer struct {
	track   Track
	packets []Packet
	failAt  int
	failErr error
	next    int
}

func (s *scriptedDemuxer) Tracks() []Track { return []Track{s.track} }
func (s *scriptedDemuxer) Select(int) error { return nil }
func (s *scriptedDemuxer) SeekStart(int) error {
	s.next = 0
	return nil
}
func (s *scriptedDemuxer) Close() error { return nil }

func (s *scriptedDemuxer) NextPacket() (Packet, error) {
	if s.failErr != nil && s.next == s.failAt {
		return Packet{}, s.failErr
	}
	if s.next >= len(s.packets) {
		return Packet{}, io.ErrUnexpectedEOF
	}
	p := s.packets[s.next]
	s.next++
	return p, nil
}

func TestCountFramesUsesMaxEnd(t *testing.T) {
	t.Parallel()

	d := &scriptedDemuxer{packets: []Packet{
		{TS: 0, Dur: 100},
		{TrackID: 9, TS: 0, Dur: 99999},
		{TS: 300, Dur: 100},
		{TS: 100, Dur: 100},
	}}
	n, err := countFrames(context.Background(), d, 0)
	require.NoError(t, err)
	require.EqualValues(t, 400, n)
}

func TestCountFramesFatalStreamError(t *testing.T) {
	t.Parallel()

	d := &scriptedDemuxer{
		packets: []Packet{{TS: 0, Dur: 10}},
		failAt:  1,
		failErr: errors.New("bad sector"),
	}
	_, err := countFrames(context.Background(), d, 0)
	require.Equal(t, fault.DecodeStream, fault.KindOf(err))
}

func TestFillLeavesGapsSilentAndStopsOnExhaustion(t *testing.T) {
	t.Parallel()

	ones := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	d := &scriptedDemuxer{packets: []Packet{
		{TS: 0, Dur: 4, data: ones(4)},
		{TS: 8, Dur: 4, data: ones(4)},
		{TS: 12, Dur: 4, data: "exhausted"},
	}}
	codec := codecFunc(func(p Packet) (Buffer, error) {
		samples, ok := p.data.([]float32)
		if !ok {
			return Buffer{}, ErrDecoderExhausted
		}
		return Buffer{Planes: [][]float32{samples}}, nil
	})

	dst := make([]float32, 16)
	require.NoError(t, fill(context.Background(), d, codec, 0, dst, nil))
	require.Equal(t, []float32{1, 1, 1, 1, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0}, dst)
}

func TestFillFatalDecodeError(t *testing.T) {
	t.Parallel()

	d := &scriptedDemuxer{packets: []Packet{{TS: 0, Dur: 4}}}
	codec := codecFunc(func(Packet) (Buffer, error) {
		return Buffer{}, errors.New("corrupt frame")
	})
	err := fill(context.Background(), d, codec, 0, make([]float32, 4), nil)
	require.Equal(t, fault.DecodeStream, fault.KindOf(err))
}

func TestDecodeMissingFile(t *testing.T) {
	t.Parallel()

	d := &Decoder{}
	_, err := d.Decode(context.Background(), tempPath(t, "nope.wav"), Hooks{})
	require.Equal(t, fault.IO, fault.KindOf(err))
}

func TestDecodeTruncatedWAVIsUnsupported(t *testing.T) {
	t.Parallel()

	path := tempPath(t, "short.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x04\x00\x00\x00WAVE"), 0o644))

	d := &Decoder{}
	_, err := d.Decode(context.Background(), path, Hooks{})
	require.Equal(t, fault.UnsupportedFormat, fault.KindOf(err))
}
