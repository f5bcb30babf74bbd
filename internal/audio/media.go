// Package audio normalizes arbitrary media into the canonical mono 16 kHz
// 16-bit PCM WAV consumed by the recognition engine.
package audio

import (
	"errors"
	"io"
)

// Canonical output format.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// CodecNull marks a track no decoder can handle (video, subtitles, data).
const CodecNull = ""

var (
	// ErrEndOfStream is returned by a demuxer once every packet was read.
	ErrEndOfStream = io.EOF
	// ErrDecoderExhausted is returned by a codec that cannot produce more
	// samples; the fill pass stops normally on it.
	ErrDecoderExhausted = errors.New("decoder exhausted")
)

// Track is one timed stream inside a container.
type Track struct {
	ID         int
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Packet covers Dur frames starting at frame TS of one track. data is owned
// by the demuxer and only valid until the next NextPacket call.
type Packet struct {
	TrackID int
	TS      int64
	Dur     int64
	data    any
}

// Demuxer iterates the packets of a container.
type Demuxer interface {
	Tracks() []Track
	// Select prepares the demuxer to produce packets for the given track.
	Select(trackID int) error
	NextPacket() (Packet, error)
	// SeekStart positions the demuxer at or before timestamp 0 of the track.
	SeekStart(trackID int) error
	Close() error
}

// Codec turns a packet into planar float samples in [-1, 1].
type Codec interface {
	Decode(Packet) (Buffer, error)
}

// Buffer holds one decoded packet, one plane per channel.
type Buffer struct {
	Planes [][]float32
}

// Frames is the number of samples per channel.
func (b Buffer) Frames() int {
	if len(b.Planes) == 0 {
		return 0
	}
	return len(b.Planes[0])
}

// Signal is a single-channel sample sequence tagged with its rate.
type Signal struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// isEndOfStream separates the normal end of a stream from real faults.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
