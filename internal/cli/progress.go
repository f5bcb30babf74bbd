package cli

import (
	"io"
	"sync"
	"time"

	"github.com/acknak/pothook/internal/events"
	"github.com/schollz/progressbar/v3"
)

const barSteps = 1000

type stopFunc func()

func startSpinner(w io.Writer, enabled bool, description string) stopFunc {
	if !enabled {
		return func() {}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// progressView switches between a determinate bar and a spinner as a
// pipeline moves through its phases. It is driven from one goroutine.
type progressView struct {
	w       io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
	spin    stopFunc
}

func newProgressView(w io.Writer, enabled bool) *progressView {
	return &progressView{w: w, enabled: enabled}
}

// Set shows fraction (0..1) on the determinate bar.
func (v *progressView) Set(description string, fraction float32) {
	if !v.enabled {
		return
	}
	v.stopSpinner()
	if v.bar == nil {
		v.bar = progressbar.NewOptions(
			barSteps,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(v.w),
			progressbar.OptionSetWidth(20),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
	}
	v.bar.Describe(description)
	_ = v.bar.Set(int(clampFraction(fraction) * barSteps))
}

// Spin replaces the bar with a spinner for a phase of unknown length.
func (v *progressView) Spin(description string) {
	if !v.enabled {
		return
	}
	v.finishBar()
	if v.spin == nil {
		v.spin = startSpinner(v.w, true, description)
	}
}

func (v *progressView) Stop() {
	v.stopSpinner()
	v.finishBar()
}

func (v *progressView) stopSpinner() {
	if v.spin != nil {
		v.spin()
		v.spin = nil
	}
}

func (v *progressView) finishBar() {
	if v.bar != nil {
		_ = v.bar.Finish()
		v.bar = nil
	}
}

func clampFraction(f float32) float32 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// watchConversion renders the audio_conv events of runID until the run ends
// or sub is closed.
func watchConversion(sub <-chan events.Event, runID string, view *progressView) {
	defer view.Stop()
	for ev := range sub {
		p, ok := ev.Payload.(events.ConvPayload)
		if !ok || ev.RunID != runID {
			continue
		}
		switch p.Status {
		case events.StatusStart:
			view.Set(p.Message, 0)
		case events.StatusProgress:
			view.Set("converting", p.Progress)
		case events.StatusIndeterminate:
			view.Spin(p.Message)
		case events.StatusFinished, events.StatusError:
			return
		}
	}
}

// watchTranscription renders whisper events of runID. With a known window
// end the bar follows the last segment end; otherwise a spinner runs.
func watchTranscription(sub <-chan events.Event, runID string, secEnd int, view *progressView) {
	defer view.Stop()
	for ev := range sub {
		p, ok := ev.Payload.(events.WhisperPayload)
		if !ok || ev.RunID != runID {
			continue
		}
		switch p.Status {
		case events.StatusStart:
			if secEnd > 0 {
				view.Set("transcribing", 0)
			} else {
				view.Spin("transcribing")
			}
		case events.StatusProgress:
			if secEnd > 0 {
				view.Set("transcribing", float32(p.EndMS/1000)/float32(secEnd))
			}
		case events.StatusFinished, events.StatusError:
			return
		}
	}
}
