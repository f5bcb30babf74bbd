package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/acknak/pothook/internal/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	keepaliveInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsMaxMessage      = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server binds to loopback by default; any local page may observe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamFilter is parsed from ?channels=a,b and the resume point from
// ?since=N or the Last-Event-ID header. resume is set whenever a valid point
// was given, including 0 for "everything still buffered".
func streamFilter(r *http.Request) (channels []string, since uint64, resume bool) {
	if v := r.URL.Query().Get("channels"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				channels = append(channels, c)
			}
		}
	}
	point := r.Header.Get("Last-Event-ID")
	if v := r.URL.Query().Get("since"); v != "" {
		point = v
	}
	if point != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(point), 10, 64); err == nil {
			since, resume = n, true
		}
	}
	return channels, since, resume
}

// streamEvents pushes bus events as server-sent events. Replay happens
// after subscribing so nothing published in between is lost; duplicates are
// skipped by sequence number.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	channels, since, resume := streamFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch, cancel := h.Bus.Subscribe(channels...)
	defer cancel()

	last := since
	if resume {
		for _, e := range h.Bus.ReplaySince(since, channels...) {
			if err := writeSSE(w, e); err != nil {
				return
			}
			last = e.Seq
		}
	}
	if err := rc.Flush(); err != nil {
		h.Logger.Warn("event stream cannot flush", zap.Error(err))
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	h.Logger.Debug("event stream client connected", zap.Strings("channels", channels))
	for {
		select {
		case <-r.Context().Done():
			h.Logger.Debug("event stream client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue
			}
			last = e.Seq
			if err := writeSSE(w, e); err != nil {
				return
			}
			_ = rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			_ = rc.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Channel, data)
	return err
}

// wsCommand is what a websocket client may send: a session field update.
type wsCommand struct {
	Op    string `json:"op"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type wsReply struct {
	Op    string `json:"op"`
	Error string `json:"error,omitempty"`
}

// websocket streams bus events as JSON text frames and accepts
// {"op":"set","field":...,"value":...} commands that update the session.
func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	channels, since, resume := streamFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.Bus.Subscribe(channels...)
	defer cancel()

	replies := make(chan wsReply, 8)
	readDone := make(chan struct{})
	go h.readCommands(conn, replies, readDone)

	last := since
	if resume {
		for _, e := range h.Bus.ReplaySince(since, channels...) {
			if err := writeWS(conn, e); err != nil {
				return
			}
			last = e.Seq
		}
	}

	ping := time.NewTicker(wsPongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue
			}
			last = e.Seq
			if err := writeWS(conn, e); err != nil {
				return
			}
		case reply := <-replies:
			if err := writeWS(conn, reply); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *handlers) readCommands(conn *websocket.Conn, replies chan<- wsReply, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		reply := wsReply{Op: cmd.Op}
		switch cmd.Op {
		case "set":
			if err := h.Store.Apply(cmd.Field, cmd.Value); err != nil {
				reply.Error = err.Error()
			}
		default:
			reply.Error = fmt.Sprintf("unknown op %q", cmd.Op)
		}
		// Successful sets are acknowledged by the config event itself.
		if reply.Error == "" {
			continue
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
