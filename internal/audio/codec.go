package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/acknak/pothook/internal/fault"
	goaudio "github.com/go-audio/audio"
)

// Codec names produced by the demuxers.
const (
	codecPCMInt = "pcm_int"
	codecPCMF32 = "pcm_f32le"
	codecMP3    = "mp3"
	codecFLAC   = "flac"
	codecVorbis = "vorbis"
)

type codecFunc func(Packet) (Buffer, error)

func (f codecFunc) Decode(p Packet) (Buffer, error) {
	return f(p)
}

var codecRegistry = map[string]func(Track) (Codec, error){
	codecPCMInt: newIntPCMCodec,
	codecPCMF32: newFloatPCMCodec,
	codecMP3:    newMP3Codec,
	codecFLAC:   newFLACCodec,
	codecVorbis: newFloatPCMCodec,
}

// newCodec picks the decoder for a track.
func newCodec(track Track) (Codec, error) {
	build, ok := codecRegistry[track.Codec]
	if !ok {
		return nil, fault.Newf(fault.UnsupportedCodec, "select codec", "no decoder for codec %q", track.Codec)
	}
	if track.Channels <= 0 {
		return nil, fault.Newf(fault.UnsupportedCodec, "select codec", "track %d reports %d channels", track.ID, track.Channels)
	}
	return build(track)
}

func allocPlanes(channels, frames int) [][]float32 {
	planes := make([][]float32, channels)
	backing := make([]float32, channels*frames)
	for ch := range planes {
		planes[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return planes
}

func unexpectedPayload(codec string, data any) error {
	return fault.Newf(fault.DecodeStream, "decode "+codec, "unexpected packet payload %T", data)
}

// newIntPCMCodec handles integer PCM from WAV, scaled by 2^(bits-1). 8-bit
// PCM is unsigned.
func newIntPCMCodec(track Track) (Codec, error) {
	bits := track.BitDepth
	switch bits {
	case 8, 16, 24, 32:
	default:
		return nil, fault.Newf(fault.UnsupportedCodec, "select codec", "unsupported PCM bit depth %d", bits)
	}
	scale := float32(math.Exp2(float64(bits - 1)))
	channels := track.Channels

	return codecFunc(func(p Packet) (Buffer, error) {
		buf, ok := p.data.(*goaudio.IntBuffer)
		if !ok {
			return Buffer{}, unexpectedPayload(codecPCMInt, p.data)
		}
		frames := int(p.Dur)
		if len(buf.Data) < frames*channels {
			return Buffer{}, fault.Newf(fault.DecodeStream, "decode pcm", "packet holds %d samples, want %d", len(buf.Data), frames*channels)
		}
		planes := allocPlanes(channels, frames)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				v := buf.Data[i*channels+ch]
				if bits == 8 {
					planes[ch][i] = float32(v-128) / 128
					continue
				}
				planes[ch][i] = float32(v) / scale
			}
		}
		return Buffer{Planes: planes}, nil
	}), nil
}

// newFloatPCMCodec deinterleaves float samples (ffmpeg f32le output and
// Vorbis, which decodes straight to float).
func newFloatPCMCodec(track Track) (Codec, error) {
	channels := track.Channels
	return codecFunc(func(p Packet) (Buffer, error) {
		data, ok := p.data.([]float32)
		if !ok {
			return Buffer{}, unexpectedPayload(track.Codec, p.data)
		}
		frames := int(p.Dur)
		if len(data) < frames*channels {
			return Buffer{}, fault.Newf(fault.DecodeStream, "decode "+track.Codec, "packet holds %d samples, want %d", len(data), frames*channels)
		}
		planes := allocPlanes(channels, frames)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				planes[ch][i] = data[i*channels+ch]
			}
		}
		return Buffer{Planes: planes}, nil
	}), nil
}

// newMP3Codec converts go-mp3 output, which is always interleaved stereo
// signed 16-bit little endian.
func newMP3Codec(Track) (Codec, error) {
	return codecFunc(func(p Packet) (Buffer, error) {
		data, ok := p.data.([]byte)
		if !ok {
			return Buffer{}, unexpectedPayload(codecMP3, p.data)
		}
		frames := int(p.Dur)
		if len(data) < frames*mp3BytesPerFrame {
			return Buffer{}, fault.Newf(fault.DecodeStream, "decode mp3", "packet holds %d bytes, want %d", len(data), frames*mp3BytesPerFrame)
		}
		planes := allocPlanes(2, frames)
		for i := 0; i < frames; i++ {
			off := i * mp3BytesPerFrame
			planes[0][i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
			planes[1][i] = float32(int16(binary.LittleEndian.Uint16(data[off+2:]))) / 32768
		}
		return Buffer{Planes: planes}, nil
	}), nil
}

func newFLACCodec(track Track) (Codec, error) {
	if track.BitDepth <= 0 || track.BitDepth > 32 {
		return nil, fault.Newf(fault.UnsupportedCodec, "select codec", "unsupported FLAC bit depth %d", track.BitDepth)
	}
	scale := float32(math.Exp2(float64(track.BitDepth - 1)))

	return codecFunc(func(p Packet) (Buffer, error) {
		subframes, ok := p.data.([][]int32)
		if !ok {
			return Buffer{}, unexpectedPayload(codecFLAC, p.data)
		}
		if len(subframes) != track.Channels {
			return Buffer{}, fault.Newf(fault.DecodeStream, "decode flac", "frame has %d channels, stream declares %d", len(subframes), track.Channels)
		}
		frames := int(p.Dur)
		planes := allocPlanes(len(subframes), frames)
		for ch, samples := range subframes {
			if len(samples) < frames {
				return Buffer{}, fmt.Errorf("decode flac: %w", ErrDecoderExhausted)
			}
			for i := 0; i < frames; i++ {
				planes[ch][i] = float32(samples[i]) / scale
			}
		}
		return Buffer{Planes: planes}, nil
	}), nil
}

// downmixInto averages the planes of buf into dst starting at offset,
// ignoring frames past the end of dst.
func downmixInto(dst []float32, offset int64, buf Buffer) {
	if offset < 0 || offset >= int64(len(dst)) {
		return
	}
	frames := buf.Frames()
	if rem := int64(len(dst)) - offset; int64(frames) > rem {
		frames = int(rem)
	}
	out := dst[offset : offset+int64(frames)]

	if len(buf.Planes) == 1 {
		copy(out, buf.Planes[0][:frames])
		return
	}

	inv := 1 / float32(len(buf.Planes))
	for i := range out {
		var sum float32
		for _, plane := range buf.Planes {
			sum += plane[i]
		}
		out[i] = sum * inv
	}
}
