package events

import "github.com/acknak/pothook/internal/fault"

// Lifecycle statuses shared by both pipelines.
const (
	StatusStart         = "start"
	StatusProgress      = "progress"
	StatusIndeterminate = "indeterminate"
	StatusFinished      = "finished"
	StatusError         = "error"
)

// ConvPayload is published on ChannelAudioConv.
type ConvPayload struct {
	Status   string     `json:"status"`
	Progress float32    `json:"progress"`
	Message  string     `json:"message"`
	Kind     fault.Kind `json:"kind,omitempty"`
}

// WhisperPayload is published on ChannelWhisper. Segment events use
// StatusProgress and carry the segment span and text in Message.
type WhisperPayload struct {
	Status      string     `json:"status"`
	StartMS     int64      `json:"start_ms"`
	EndMS       int64      `json:"end_ms"`
	Index       int        `json:"index"`
	SpeakerTurn bool       `json:"speaker_turn,omitempty"`
	Message     string     `json:"message"`
	Kind        fault.Kind `json:"kind,omitempty"`
}
