package audio

import (
	"os"

	"github.com/acknak/pothook/internal/fault"
	"github.com/mewkiz/flac"
)

type flacDemuxer struct {
	f      *os.File
	stream *flac.Stream
	track  Track
	planes [][]int32
	pos    int64
}

func openFLAC(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.IO, "open media", err)
	}
	stream, err := flac.NewSeek(f)
	if err != nil {
		_ = f.Close()
		return nil, fault.New(fault.UnsupportedFormat, "probe flac", err)
	}
	info := stream.Info
	return &flacDemuxer{
		f:      f,
		stream: stream,
		track: Track{
			Codec:      codecFLAC,
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
			BitDepth:   int(info.BitsPerSample),
		},
		planes: make([][]int32, info.NChannels),
	}, nil
}

func (d *flacDemuxer) Tracks() []Track {
	return []Track{d.track}
}

func (d *flacDemuxer) Select(int) error {
	return nil
}

func (d *flacDemuxer) NextPacket() (Packet, error) {
	fr, err := d.stream.ParseNext()
	if err != nil {
		return Packet{}, err
	}
	if len(fr.Subframes) != len(d.planes) {
		d.planes = make([][]int32, len(fr.Subframes))
	}
	for ch, sub := range fr.Subframes {
		d.planes[ch] = sub.Samples
	}

	frames := int64(fr.BlockSize)
	p := Packet{TrackID: d.track.ID, TS: d.pos, Dur: frames, data: d.planes}
	d.pos += frames
	return p, nil
}

func (d *flacDemuxer) SeekStart(int) error {
	if _, err := d.stream.Seek(0); err != nil {
		return err
	}
	d.pos = 0
	return nil
}

// Close releases the file; flac.NewSeek leaves it open on stream.Close.
func (d *flacDemuxer) Close() error {
	serr := d.stream.Close()
	if err := d.f.Close(); err != nil {
		return err
	}
	return serr
}
