package audio

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/acknak/pothook/internal/fault"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVFormat is the header information of a WAV file.
type WAVFormat struct {
	AudioFormat int `json:"audio_format"`
	Channels    int `json:"channels"`
	SampleRate  int `json:"sample_rate"`
	BitDepth    int `json:"bit_depth"`
}

func (f WAVFormat) String() string {
	return fmt.Sprintf("format %d, %d ch, %d Hz, %d bit", f.AudioFormat, f.Channels, f.SampleRate, f.BitDepth)
}

// InspectWAV reads the header of the WAV file at path.
func InspectWAV(path string) (WAVFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVFormat{}, fault.New(fault.IO, "open wav", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return WAVFormat{}, fault.Newf(fault.UnsupportedFormat, "check wav", "%s is not a RIFF/WAVE file", path)
	}
	return WAVFormat{
		AudioFormat: int(dec.WavAudioFormat),
		Channels:    int(dec.NumChans),
		SampleRate:  int(dec.SampleRate),
		BitDepth:    int(dec.BitDepth),
	}, nil
}

// WAVDuration is the playback length declared by the WAV header.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fault.New(fault.IO, "open wav", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fault.Newf(fault.UnsupportedFormat, "wav duration", "%s is not a RIFF/WAVE file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fault.New(fault.UnsupportedFormat, "wav duration", err)
	}
	frameBytes := int64(dec.NumChans) * int64((dec.BitDepth+7)/8)
	if frameBytes == 0 || dec.SampleRate == 0 {
		return 0, fault.Newf(fault.UnsupportedFormat, "wav duration", "%s declares no frames", path)
	}
	frames := int64(dec.PCMSize) / frameBytes
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate), nil
}

// CheckFormat reports whether path already is a canonical mono 16 kHz
// 16-bit PCM WAV. The returned error carries every mismatch.
func CheckFormat(path string) error {
	got, err := InspectWAV(path)
	if err != nil {
		return err
	}

	var problems []string
	if got.AudioFormat != wavFormatPCM {
		problems = append(problems, fmt.Sprintf("audio format %d is not integer PCM", got.AudioFormat))
	}
	if got.Channels != TargetChannels {
		problems = append(problems, fmt.Sprintf("%d channels, want %d", got.Channels, TargetChannels))
	}
	if got.SampleRate != TargetSampleRate {
		problems = append(problems, fmt.Sprintf("%d Hz, want %d", got.SampleRate, TargetSampleRate))
	}
	if got.BitDepth != TargetBitDepth {
		problems = append(problems, fmt.Sprintf("%d bit, want %d", got.BitDepth, TargetBitDepth))
	}
	if len(problems) > 0 {
		return fault.Newf(fault.UnsupportedFormat, "check wav", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// LoadWAV reads integer PCM samples scaled by the largest positive sample
// value, so 16-bit input is divided by 32767. The format is not validated
// beyond being integer PCM; multi-channel frames are averaged.
func LoadWAV(path string) (Signal, error) {
	demux, err := openWAV(path)
	if err != nil {
		return Signal{}, err
	}
	defer demux.Close()

	wd := demux.(*wavDemuxer)
	track := wd.track
	if track.BitDepth < 8 || track.BitDepth > 32 {
		return Signal{}, fault.Newf(fault.UnsupportedCodec, "load wav", "unsupported PCM bit depth %d", track.BitDepth)
	}
	scale := float32(math.Exp2(float64(track.BitDepth-1)) - 1)

	var samples []float32
	for {
		p, err := wd.NextPacket()
		if err != nil {
			if isEndOfStream(err) {
				break
			}
			return Signal{}, fault.New(fault.IO, "load wav", err)
		}
		buf := p.data.(*goaudio.IntBuffer)
		for i := 0; i < int(p.Dur); i++ {
			var sum float32
			for ch := 0; ch < track.Channels; ch++ {
				v := buf.Data[i*track.Channels+ch]
				if track.BitDepth == 8 {
					v -= 128
				}
				sum += float32(v) / scale
			}
			samples = append(samples, sum/float32(track.Channels))
		}
	}
	return Signal{Samples: samples, SampleRate: track.SampleRate}, nil
}
