package audio

import (
	"errors"
	"io"
	"os"

	"github.com/acknak/pothook/internal/fault"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always yields interleaved stereo int16.
const mp3BytesPerFrame = 4

type mp3Demuxer struct {
	f     *os.File
	dec   *mp3.Decoder
	track Track
	buf   []byte
	pos   int64
}

func openMP3(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IO, "open media", err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		_ = f.Close()
		return nil, fault.New(fault.UnsupportedFormat, "probe mp3", err)
	}
	return &mp3Demuxer{
		f:   f,
		dec: dec,
		track: Track{
			Codec:      codecMP3,
			SampleRate: dec.SampleRate(),
			Channels:   2,
			BitDepth:   16,
		},
		buf: make([]byte, 1152*mp3BytesPerFrame),
	}, nil
}

func (d *mp3Demuxer) Tracks() []Track {
	return []Track{d.track}
}

func (d *mp3Demuxer) Select(int) error {
	return nil
}

func (d *mp3Demuxer) NextPacket() (Packet, error) {
	n, err := io.ReadFull(d.dec, d.buf)
	frames := int64(n / mp3BytesPerFrame)
	if frames == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrEndOfStream
		}
		return Packet{}, err
	}
	if err != nil && !isEndOfStream(err) {
		return Packet{}, err
	}

	p := Packet{TrackID: d.track.ID, TS: d.pos, Dur: frames, data: d.buf[:frames*mp3BytesPerFrame]}
	d.pos += frames
	return p, nil
}

func (d *mp3Demuxer) SeekStart(int) error {
	if _, err := d.dec.Seek(0, io.SeekStart); err != nil {
		return err
	}
	d.pos = 0
	return nil
}

func (d *mp3Demuxer) Close() error {
	return d.f.Close()
}
