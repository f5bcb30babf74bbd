package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/acknak/pothook/internal/fault"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE

	packetFrames = 1024
)

type wavDemuxer struct {
	f     *os.File
	dec   *wav.Decoder
	track Track
	buf   *goaudio.IntBuffer
	pos   int64
}

func openWAV(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IO, "open media", err)
	}

	d := &wavDemuxer{f: f}
	if err := d.rewind(); err != nil {
		_ = f.Close()
		return nil, err
	}

	if format := d.dec.WavAudioFormat; format != wavFormatPCM && format != wavFormatExtensible {
		_ = f.Close()
		return nil, fault.Newf(fault.UnsupportedCodec, "probe wav", "audio format tag %#x", format)
	}

	d.track = Track{
		ID:         0,
		Codec:      codecPCMInt,
		SampleRate: int(d.dec.SampleRate),
		Channels:   int(d.dec.NumChans),
		BitDepth:   int(d.dec.BitDepth),
	}
	if d.track.Channels <= 0 {
		_ = f.Close()
		return nil, fault.Newf(fault.UnsupportedFormat, "probe wav", "file declares %d channels", d.track.Channels)
	}
	d.buf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: d.track.Channels, SampleRate: d.track.SampleRate},
		Data:           make([]int, packetFrames*d.track.Channels),
		SourceBitDepth: d.track.BitDepth,
	}
	return d, nil
}

// rewind re-reads the header and leaves the decoder at the first PCM byte.
func (d *wavDemuxer) rewind() error {
	if _, err := d.f.Seek(0, io.SeekStart); err != nil {
		return fault.New(fault.IO, "seek wav", err)
	}
	dec := wav.NewDecoder(d.f)
	if !dec.IsValidFile() {
		return fault.Newf(fault.UnsupportedFormat, "probe wav", "not a valid RIFF/WAVE file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return fault.New(fault.UnsupportedFormat, "probe wav", fmt.Errorf("locate data chunk: %w", err))
	}
	d.dec = dec
	d.pos = 0
	return nil
}

func (d *wavDemuxer) Tracks() []Track {
	return []Track{d.track}
}

func (d *wavDemuxer) Select(int) error {
	return nil
}

func (d *wavDemuxer) NextPacket() (Packet, error) {
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil {
		return Packet{}, err
	}
	frames := int64(n / d.track.Channels)
	if frames == 0 {
		return Packet{}, ErrEndOfStream
	}

	p := Packet{TrackID: d.track.ID, TS: d.pos, Dur: frames, data: d.buf}
	d.pos += frames
	return p, nil
}

func (d *wavDemuxer) SeekStart(int) error {
	return d.rewind()
}

func (d *wavDemuxer) Close() error {
	return d.f.Close()
}
