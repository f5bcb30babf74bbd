// Package session holds the process-wide transcription session settings and
// broadcasts a full snapshot after every change.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/acknak/pothook/internal/events"
)

// Status is the coarse session state shown to observers.
type Status int

const (
	StatusNotReady Status = iota
	StatusStandBy
	StatusTranscribing
)

var statusNames = []string{"NotReady", "StandBy", "Transcribing"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", string(text))
}

// DefaultLanguage is the language a fresh session starts with.
const DefaultLanguage = "ja"

// ErrUnknownField is returned by Apply for a field name no setter handles.
var ErrUnknownField = errors.New("unknown session field")

// Config is the snapshot broadcast on the config channel.
type Config struct {
	Status       Status `json:"status"`
	PathWav      string `json:"path_wav"`
	PathModel    string `json:"path_model"`
	DisplayClock bool   `json:"display_clock"`
	Lang         string `json:"lang"`
	Translate    bool   `json:"translate"`
	SecStart     int    `json:"sec_start"`
	SecEnd       int    `json:"sec_end"`
}

// MsOffset is the trim window start in milliseconds.
func (c Config) MsOffset() int {
	return c.SecStart * 1000
}

// MsDuration is the trim window length in milliseconds; an inverted window
// is empty rather than an error.
func (c Config) MsDuration() int {
	if c.SecStart > c.SecEnd {
		return 0
	}
	return (c.SecEnd - c.SecStart) * 1000
}

// DefaultConfig is the state of a fresh session.
func DefaultConfig() Config {
	return Config{
		Status:       StatusNotReady,
		DisplayClock: true,
		Lang:         DefaultLanguage,
	}
}

// Store is the single shared session. Each setter holds the lock for one
// mutation plus its broadcast, so observers see snapshots in mutation order.
type Store struct {
	mu  sync.Mutex
	cfg Config
	pub events.Publisher
}

// NewStore creates a session with default settings. pub may be nil.
func NewStore(pub events.Publisher) *Store {
	return &Store{cfg: DefaultConfig(), pub: pub}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Store) update(mutate func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.cfg)
	if s.pub != nil {
		s.pub.Publish(events.ChannelConfig, "", s.cfg)
	}
}

// Restore replaces every field at once, e.g. from settings persisted by the caller.
func (s *Store) Restore(cfg Config) {
	s.update(func(c *Config) { *c = cfg })
}

func (s *Store) SetStatus(status Status) {
	s.update(func(c *Config) { c.Status = status })
}

func (s *Store) SetPathWav(path string) {
	s.update(func(c *Config) {
		c.PathWav = path
		settle(c)
	})
}

func (s *Store) SetPathModel(path string) {
	s.update(func(c *Config) {
		c.PathModel = path
		settle(c)
	})
}

func (s *Store) SetDisplayClock(on bool) {
	s.update(func(c *Config) { c.DisplayClock = on })
}

func (s *Store) SetLang(lang string) {
	s.update(func(c *Config) { c.Lang = lang })
}

func (s *Store) SetTranslate(on bool) {
	s.update(func(c *Config) { c.Translate = on })
}

func (s *Store) SetSecStart(sec int) {
	s.update(func(c *Config) { c.SecStart = sec })
}

func (s *Store) SetSecEnd(sec int) {
	s.update(func(c *Config) { c.SecEnd = sec })
}

// Settle recomputes the idle status from the configured paths. It is called
// when a transcription run ends.
func (s *Store) Settle() {
	s.update(func(c *Config) {
		if c.Status == StatusTranscribing {
			c.Status = StatusNotReady
		}
		settle(c)
	})
}

func settle(c *Config) {
	if c.Status == StatusTranscribing {
		return
	}
	if c.PathWav != "" && c.PathModel != "" {
		c.Status = StatusStandBy
	} else {
		c.Status = StatusNotReady
	}
}

// Apply runs the setter named by field with a string value, as sent by a UI.
// Unparsable booleans and integers fall back to their zero value.
func (s *Store) Apply(field, value string) error {
	switch field {
	case "pathWav":
		s.SetPathWav(value)
	case "pathModel":
		s.SetPathModel(value)
	case "lang":
		s.SetLang(value)
	case "translate":
		s.SetTranslate(parseBool(value))
	case "displayClock":
		s.SetDisplayClock(parseBool(value))
	case "secStart":
		s.SetSecStart(parseInt(value))
	case "secEnd":
		s.SetSecEnd(parseInt(value))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Fields lists the names accepted by Apply.
func Fields() []string {
	return []string{"pathWav", "pathModel", "lang", "translate", "displayClock", "secStart", "secEnd"}
}

func parseBool(value string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return v
}

func parseInt(value string) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return v
}

// MarshalJSON renders the snapshot, so a Store can be served directly.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
