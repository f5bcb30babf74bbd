package audio

import (
	"os"

	"github.com/acknak/pothook/internal/fault"
	"github.com/jfreymuth/oggvorbis"
)

type oggDemuxer struct {
	f       *os.File
	r       *oggvorbis.Reader
	track   Track
	buf     []float32
	pos     int64
	pending error
}

// openOgg only understands Vorbis; other Ogg codecs (Opus, FLAC) report
// UnsupportedCodec so the prober can hand the file to ffmpeg.
func openOgg(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IO, "open media", err)
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fault.New(fault.UnsupportedCodec, "probe ogg", err)
	}
	return &oggDemuxer{
		f: f,
		r: r,
		track: Track{
			Codec:      codecVorbis,
			SampleRate: r.SampleRate(),
			Channels:   r.Channels(),
		},
		buf: make([]float32, packetFrames*r.Channels()),
	}, nil
}

func (d *oggDemuxer) Tracks() []Track {
	return []Track{d.track}
}

func (d *oggDemuxer) Select(int) error {
	return nil
}

func (d *oggDemuxer) NextPacket() (Packet, error) {
	for {
		if d.pending != nil {
			return Packet{}, d.pending
		}
		n, err := d.r.Read(d.buf)
		if err != nil {
			d.pending = err
		}
		frames := int64(n / d.track.Channels)
		if frames == 0 {
			continue
		}
		p := Packet{TrackID: d.track.ID, TS: d.pos, Dur: frames, data: d.buf[:frames*int64(d.track.Channels)]}
		d.pos += frames
		return p, nil
	}
}

func (d *oggDemuxer) SeekStart(int) error {
	if err := d.r.SetPosition(0); err != nil {
		return err
	}
	d.pos = 0
	d.pending = nil
	return nil
}

func (d *oggDemuxer) Close() error {
	return d.f.Close()
}
