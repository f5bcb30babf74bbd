package audio

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/acknak/pothook/internal/fault"
	"golang.org/x/sync/errgroup"
)

// Fixed quality profile of the band-limited resampler.
const (
	sincLen      = 256
	sincCutoff   = 0.95
	oversampling = 256

	resampleChunk = 1 << 14
)

type kernelKey struct {
	scale float64
}

var (
	kernelMu    sync.Mutex
	kernelCache = map[kernelKey][]float64{}
)

// Resample converts sig to rate. A signal already at rate is returned
// unchanged. The output holds round(len * rate / src) samples.
func Resample(ctx context.Context, sig Signal, rate int) (Signal, error) {
	if sig.SampleRate <= 0 || rate <= 0 {
		return Signal{}, fault.Newf(fault.Resample, "resample", "invalid rates %d -> %d Hz", sig.SampleRate, rate)
	}
	if sig.SampleRate == rate {
		return sig, nil
	}

	ratio := float64(rate) / float64(sig.SampleRate)
	if math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return Signal{}, fault.Newf(fault.Resample, "resample", "invalid ratio %v", ratio)
	}

	outLen := int(math.Round(float64(len(sig.Samples)) * ratio))
	out := make([]float32, outLen)
	if outLen == 0 {
		return Signal{Samples: out, SampleRate: rate}, nil
	}

	table := kernelTable(math.Min(1, ratio))
	step := 1 / ratio

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < outLen; lo += resampleChunk {
		lo := lo
		hi := min(lo+resampleChunk, outLen)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			interpolate(out[lo:hi], lo, step, sig.Samples, table)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Signal{}, err
	}
	return Signal{Samples: out, SampleRate: rate}, nil
}

// interpolate computes dst[i] = y((first+i) * step) where y is the
// band-limited reconstruction of in.
func interpolate(dst []float32, first int, step float64, in []float32, table []float64) {
	const half = sincLen / 2
	n := len(in)
	for i := range dst {
		t := float64(first+i) * step
		base := int(math.Floor(t))
		frac := t - float64(base)

		var acc float64
		for k := -half + 1; k <= half; k++ {
			idx := base + k
			if idx < 0 || idx >= n {
				continue
			}
			acc += float64(in[idx]) * tap(table, float64(k)-frac)
		}
		dst[i] = float32(acc)
	}
}

// tap evaluates the kernel at x input samples from the centre, interpolating
// linearly between oversampled table entries.
func tap(table []float64, x float64) float64 {
	const half = sincLen / 2
	pos := (x + half) * oversampling
	if pos < 0 || pos >= float64(len(table)-1) {
		return 0
	}
	i := int(pos)
	f := pos - float64(i)
	return table[i]*(1-f) + table[i+1]*f
}

// kernelTable returns the windowed sinc sampled oversampling times per input
// sample over [-sincLen/2, sincLen/2]. scale narrows the passband when
// downsampling.
func kernelTable(scale float64) []float64 {
	key := kernelKey{scale: scale}
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if t, ok := kernelCache[key]; ok {
		return t
	}

	const half = sincLen / 2
	size := sincLen*oversampling + 1
	fc := 0.5 * sincCutoff * scale
	table := make([]float64, size+1)
	for i := 0; i < size; i++ {
		x := float64(i)/oversampling - half
		table[i] = 2 * fc * sinc(2*fc*x) * window(x)
	}
	kernelCache[key] = table
	return table
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// window is a squared Blackman-Harris taper over [-sincLen/2, sincLen/2].
func window(x float64) float64 {
	const (
		a0 = 0.35875
		a1 = 0.48829
		a2 = 0.14128
		a3 = 0.01168
	)
	n := (x + sincLen/2) / sincLen
	if n < 0 || n > 1 {
		return 0
	}
	w := a0 - a1*math.Cos(2*math.Pi*n) + a2*math.Cos(4*math.Pi*n) - a3*math.Cos(6*math.Pi*n)
	return w * w
}
