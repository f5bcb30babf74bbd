// Package transcript accumulates the segments streamed on the whisper channel
// and renders them as clock lines, plain text or SRT.
package transcript

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/session"
)

const blankAudioToken = "[BLANK_AUDIO]"

// Entry is one received segment.
type Entry struct {
	StartMS     int64  `json:"start_ms"`
	EndMS       int64  `json:"end_ms"`
	Text        string `json:"text"`
	SpeakerTurn bool   `json:"speaker_turn,omitempty"`
}

// Collector keeps the segments of the most recent run. Rendering follows the
// session's display_clock flag and trim window.
type Collector struct {
	store *session.Store

	mu      sync.Mutex
	runID   string
	entries []Entry
	done    bool
}

func NewCollector(store *session.Store) *Collector {
	return &Collector{store: store}
}

// Observe folds one whisper event into the collector. A start event from a
// new run discards the previous transcript.
func (c *Collector) Observe(ev events.Event) {
	p, ok := ev.Payload.(events.WhisperPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch p.Status {
	case events.StatusStart:
		c.runID = ev.RunID
		c.entries = nil
		c.done = false
	case events.StatusProgress:
		if ev.RunID != c.runID {
			return
		}
		c.entries = append(c.entries, Entry{StartMS: p.StartMS, EndMS: p.EndMS, Text: p.Message, SpeakerTurn: p.SpeakerTurn})
	case events.StatusFinished, events.StatusError:
		if ev.RunID == c.runID {
			c.done = true
		}
	}
}

// Follow consumes sub until it is closed or ctx ends.
func (c *Collector) Follow(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = ""
	c.entries = nil
	c.done = false
}

// Entries returns a copy of the collected segments.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Done reports whether the current run has ended.
func (c *Collector) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Blank reports whether nothing but silence markers was recognized.
func (c *Collector) Blank() bool {
	for _, e := range c.Entries() {
		if !IsBlank(e.Text) {
			return false
		}
	}
	return true
}

// Text renders one line per segment, prefixed with its clock span when the
// session displays clocks.
func (c *Collector) Text() string {
	clock := true
	if c.store != nil {
		clock = c.store.Snapshot().DisplayClock
	}
	return strings.Join(Lines(c.Entries(), clock), "\n")
}

// Percent is how far the last segment reached into the trim window end, in
// whole percent clamped to 0..100. It is 0 without a window end.
func (c *Collector) Percent() int {
	entries := c.Entries()
	if c.store == nil || len(entries) == 0 {
		return 0
	}
	secEnd := c.store.Snapshot().SecEnd
	if secEnd <= 0 {
		return 0
	}
	sec := int(entries[len(entries)-1].EndMS / 1000)
	if sec > secEnd {
		return 100
	}
	return sec * 100 / secEnd
}

// Lines formats entries as "[hh:mm:ss.mmm --> hh:mm:ss.mmm] text" or bare
// text.
func Lines(entries []Entry, clock bool) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if clock {
			out = append(out, fmt.Sprintf("[%s --> %s] %s", Clock(e.StartMS), Clock(e.EndMS), e.Text))
			continue
		}
		out = append(out, e.Text)
	}
	return out
}

// WriteSRT writes entries as SubRip cues.
func WriteSRT(w io.Writer, entries []Entry) error {
	n := 0
	for _, e := range entries {
		if IsBlank(e.Text) {
			continue
		}
		n++
		start := strings.Replace(Clock(e.StartMS), ".", ",", 1)
		end := strings.Replace(Clock(e.EndMS), ".", ",", 1)
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", n, start, end, e.Text); err != nil {
			return err
		}
	}
	return nil
}

// Clock formats ms as hh:mm:ss.mmm. Hours are not wrapped.
func Clock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000)
}

// IsBlank reports whether text is empty or the engine's silence marker.
func IsBlank(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	return strings.EqualFold(trimmed, blankAudioToken)
}
