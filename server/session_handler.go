package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"soundscape/core/mixer"
	"soundscape/core/session"
	"soundscape/core/stream"
	"soundscape/logger"
	"soundscape/model"

	"github.com/gorilla/mux"
)

// SessionRequest opens a live session from a saved soundscape or a track list.
type SessionRequest struct {
	SoundscapeID int64              `json:"soundscapeId,omitempty"`
	Tracks       []model.TrackState `json:"tracks,omitempty"`
}

// LoadFailure is one track that did not decode.
type LoadFailure struct {
	TrackID   int    `json:"trackId"`
	SourceRef string `json:"sourceRef"`
	Error     string `json:"error"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	ID       string         `json:"id"`
	State    mixer.Snapshot `json:"state"`
	Failures []LoadFailure  `json:"failures,omitempty"`
}

func loadFailures(errs []*mixer.AudioLoadError) []LoadFailure {
	out := make([]LoadFailure, 0, len(errs))
	for _, e := range errs {
		out = append(out, LoadFailure{TrackID: e.TrackID, SourceRef: e.SourceRef, Error: e.Err.Error()})
	}
	return out
}

// CreateSessionHandler opens a live mixing session.
func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	states := req.Tracks
	if req.SoundscapeID > 0 {
		s, err := h.soundscapeRepo.GetByID(r.Context(), req.SoundscapeID)
		if err != nil {
			logger.Error("获取混音失败", logger.Int64("soundscapeId", req.SoundscapeID), logger.ErrorField(err))
			http.Error(w, "Failed to load soundscape", http.StatusInternalServerError)
			return
		}
		if s == nil || s.UserID != uid {
			http.Error(w, "Soundscape not found", http.StatusNotFound)
			return
		}
		states = s.TrackStates()
	}
	if err := validateTracks(states, h.cfg.MaxTracks); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, failures, err := h.sessions.Create(r.Context(), uid, states)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTooManySessions):
			http.Error(w, "Too many open sessions", http.StatusServiceUnavailable)
		case errors.Is(err, mixer.ErrCapacityExceeded):
			http.Error(w, "Too many tracks", http.StatusBadRequest)
		default:
			logger.Error("创建混音会话失败", logger.ErrorField(err))
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
		}
		return
	}

	snap, err := s.Bus.Snapshot()
	if err != nil {
		http.Error(w, "Session closed", http.StatusGone)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{ID: s.ID, State: snap, Failures: loadFailures(failures)})
}

// session resolves the {id} session of the caller.
func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	uid, ok := userID(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(mux.Vars(r)["id"], uid)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	case err != nil:
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

// GetSessionHandler returns the session snapshot.
func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Bus.Snapshot()
	if err != nil {
		http.Error(w, "Session closed", http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, State: snap})
}

// DeleteSessionHandler closes the session.
func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(s.ID, s.OwnerID); err != nil && !errors.Is(err, session.ErrNotFound) {
		http.Error(w, "Failed to close session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionFeedHandler upgrades to the WebSocket control and visualization feed.
func (h *APIHandler) SessionFeedHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}
	logger.Debug("混音会话 WebSocket 已连接", logger.String("sessionId", s.ID))
	stream.NewFeed(conn, s.Bus, h.cfg.FeedInterval).Run(r.Context())
	logger.Debug("混音会话 WebSocket 已断开", logger.String("sessionId", s.ID))
}

// SessionMP3Handler streams the live mix as MP3.
func (h *APIHandler) SessionMP3Handler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.mp3.Serve(w, r, s.Broadcaster)
}

// SessionRTCHandler answers a WebRTC offer for the live mix.
func (h *APIHandler) SessionRTCHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.rtc.Negotiate(w, r, s.Broadcaster)
}
