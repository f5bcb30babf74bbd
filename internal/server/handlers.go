package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/fault"
	"github.com/acknak/pothook/internal/session"
	"github.com/acknak/pothook/internal/transcript"
	"github.com/acknak/pothook/internal/version"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type runResponse struct {
	RunID string `json:"run_id"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Current(),
	})
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Snapshot())
}

type fieldRequest struct {
	Value string `json:"value"`
}

func (h *handlers) putSessionField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Store.Apply(chi.URLParam(r, "field"), req.Value); err != nil {
		if errors.Is(err, session.ErrUnknownField) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Detail: "known fields: " + strings.Join(session.Fields(), ", ")})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Store.Snapshot())
}

type checkRequest struct {
	Path string `json:"path"`
}

type checkResponse struct {
	OK     bool             `json:"ok"`
	Format *audio.WAVFormat `json:"format,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   string           `json:"kind,omitempty"`
}

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeBody(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	resp := checkResponse{OK: true}
	if format, err := audio.InspectWAV(req.Path); err == nil {
		resp.Format = &format
	}
	if err := audio.CheckFormat(req.Path); err != nil {
		resp.OK = false
		resp.Error = err.Error()
		resp.Kind = fault.KindOf(err).String()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type convertRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	// UseForSession points the session at the output once it is written.
	UseForSession bool `json:"use_for_session,omitempty"`
}

func (h *handlers) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Input == "" || req.Output == "" {
		writeError(w, http.StatusBadRequest, "input and output are required")
		return
	}

	runID := events.NewRunID()
	go func() {
		if err := h.Converter.Convert(h.runCtx, runID, req.Input, req.Output); err != nil {
			h.Logger.Debug("background conversion ended with error", zap.String("run_id", runID), zap.Error(err))
			return
		}
		if req.UseForSession {
			h.Store.SetPathWav(req.Output)
		}
	}()
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

type transcribeRequest struct {
	PathWav    string `json:"path_wav"`
	PathModel  string `json:"path_model"`
	Language   string `json:"language"`
	Translate  bool   `json:"translate"`
	OffsetMS   int64  `json:"offset_ms"`
	DurationMS int64  `json:"duration_ms"`
}

// transcribe runs with the body's arguments, or with the current session
// when the body is empty.
func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	var body transcribeRequest
	var req *whisper.Request
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		modelPath, err := h.resolveModel(body.PathModel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = &whisper.Request{
			PathWav:    body.PathWav,
			PathModel:  modelPath,
			Language:   body.Language,
			Translate:  body.Translate,
			OffsetMS:   body.OffsetMS,
			DurationMS: body.DurationMS,
		}
		if req.Language == "" {
			req.Language = h.Store.Snapshot().Lang
		}
	}

	runID := events.NewRunID()
	done, err := h.Driver.Launch(h.runCtx, runID, req)
	if errors.Is(err, whisper.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeFault(w, http.StatusInternalServerError, err)
		return
	}
	go func() {
		if err := <-done; err != nil {
			h.Logger.Debug("background transcription ended with error", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

// resolveModel maps a catalog name to its file in ModelDir. Anything else is
// taken as a path.
func (h *handlers) resolveModel(ref string) (string, error) {
	if _, ok := whisper.FindModel(ref); !ok || h.ModelDir == "" {
		return ref, nil
	}
	loc, err := whisper.LocateModel(ref, h.ModelDir)
	if err != nil {
		return "", err
	}
	if loc.NeedsDownload {
		return "", errors.New("model " + ref + " is not downloaded; run pothook setup --model " + ref)
	}
	return loc.Path, nil
}

type transcriptResponse struct {
	Done     bool               `json:"done"`
	Percent  int                `json:"percent"`
	Text     string             `json:"text"`
	Segments []transcript.Entry `json:"segments"`
}

func (h *handlers) getTranscript(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "srt":
		w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
		if err := transcript.WriteSRT(w, h.Transcript.Entries()); err != nil {
			h.Logger.Warn("write srt", zap.Error(err))
		}
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(h.Transcript.Text()))
	default:
		writeJSON(w, http.StatusOK, transcriptResponse{
			Done:     h.Transcript.Done(),
			Percent:  h.Transcript.Percent(),
			Text:     h.Transcript.Text(),
			Segments: h.Transcript.Entries(),
		})
	}
}

type modelEntry struct {
	Name         string `json:"name"`
	File         string `json:"file"`
	Multilingual bool   `json:"multilingual"`
	Downloaded   bool   `json:"downloaded"`
	Path         string `json:"path,omitempty"`
}

func (h *handlers) models(w http.ResponseWriter, _ *http.Request) {
	var out []modelEntry
	for _, spec := range whisper.Catalog() {
		entry := modelEntry{Name: spec.Name, File: spec.FileName, Multilingual: spec.Multilingual}
		if h.ModelDir != "" {
			if loc, err := whisper.LocateModel(spec.Name, h.ModelDir); err == nil {
				entry.Downloaded = !loc.NeedsDownload
				entry.Path = loc.Path
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}
