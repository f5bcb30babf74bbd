package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/acknak/pothook/internal/fault"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavPCMFormat = 1

// pcm16 scales a [-1, 1] sample by 32767 and truncates toward zero.
// Out-of-range input saturates at the int16 bounds; NaN becomes 0.
func pcm16(s float32) int {
	v := float64(s) * math.MaxInt16
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int(v)
}

// EncodeWAV writes sig as canonical mono 16 kHz 16-bit PCM. The file is
// written beside path and renamed into place, so path never holds a partial
// container.
func EncodeWAV(path string, sig Signal) error {
	if sig.SampleRate != TargetSampleRate {
		return fault.Newf(fault.Encode, "encode wav", "signal is %d Hz, want %d", sig.SampleRate, TargetSampleRate)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fault.New(fault.Encode, "create output", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	enc := wav.NewEncoder(tmp, TargetSampleRate, TargetBitDepth, TargetChannels, wavPCMFormat)
	data := make([]int, len(sig.Samples))
	for i, s := range sig.Samples {
		data[i] = pcm16(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: TargetChannels, SampleRate: TargetSampleRate},
		Data:           data,
		SourceBitDepth: TargetBitDepth,
	}
	// Write also emits the header, so it runs even for an empty signal.
	if err := enc.Write(buf); err != nil {
		return fault.New(fault.Encode, "write samples", err)
	}
	if err := enc.Close(); err != nil {
		return fault.New(fault.Encode, "finalize wav", err)
	}
	if err := tmp.Sync(); err != nil {
		return fault.New(fault.Encode, "sync output", err)
	}
	if err := tmp.Close(); err != nil {
		return fault.New(fault.Encode, "close output", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return fault.New(fault.Encode, "commit output", fmt.Errorf("rename %s: %w", tmpPath, err))
	}
	committed = true
	return nil
}
