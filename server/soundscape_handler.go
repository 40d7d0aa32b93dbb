package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"soundscape/core/gainpan"
	"soundscape/logger"
	"soundscape/model"
)

// SoundscapeRequest is the body of create and update.
type SoundscapeRequest struct {
	Name   string             `json:"name"`
	Tracks []model.TrackState `json:"tracks"`
}

// validateTracks checks a track list against what a mixing session accepts.
func validateTracks(tracks []model.TrackState, maxTracks int) error {
	if len(tracks) > maxTracks {
		return fmt.Errorf("at most %d tracks are allowed", maxTracks)
	}
	for i, t := range tracks {
		if strings.TrimSpace(t.SourceRef) == "" {
			return fmt.Errorf("track %d: sourceRef is required", i)
		}
		if t.Pan < -1 || t.Pan > 1 {
			return fmt.Errorf("track %d: pan must be within [-1, 1]", i)
		}
		if t.GainDB != nil && (*t.GainDB < gainpan.MinGainDB || *t.GainDB > gainpan.MaxGainDB) {
			return fmt.Errorf("track %d: gain must be within [%g, %g] dB", i, gainpan.MinGainDB, gainpan.MaxGainDB)
		}
	}
	return nil
}

func (h *APIHandler) decodeSoundscape(w http.ResponseWriter, r *http.Request) (*SoundscapeRequest, bool) {
	var req SoundscapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return nil, false
	}
	if err := validateTracks(req.Tracks, h.cfg.MaxTracks); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// ownedSoundscape loads the {id} soundscape and checks it belongs to the caller.
func (h *APIHandler) ownedSoundscape(w http.ResponseWriter, r *http.Request) (*model.Soundscape, bool) {
	uid, ok := userID(w, r)
	if !ok {
		return nil, false
	}
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid soundscape ID", http.StatusBadRequest)
		return nil, false
	}
	s, err := h.soundscapeRepo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("获取混音失败", logger.Int64("soundscapeId", id), logger.ErrorField(err))
		http.Error(w, "Failed to load soundscape", http.StatusInternalServerError)
		return nil, false
	}
	if s == nil || s.UserID != uid {
		http.Error(w, "Soundscape not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

// ListSoundscapesHandler returns the caller's soundscapes.
func (h *APIHandler) ListSoundscapesHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := h.soundscapeRepo.ListByUser(r.Context(), uid)
	if err != nil {
		logger.Error("获取混音列表失败", logger.Int64("userId", uid), logger.ErrorField(err))
		http.Error(w, "Failed to list soundscapes", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*model.Soundscape{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateSoundscapeHandler saves a new soundscape.
func (h *APIHandler) CreateSoundscapeHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeSoundscape(w, r)
	if !ok {
		return
	}

	s := &model.Soundscape{UserID: uid, Name: req.Name}
	s.SetTrackStates(req.Tracks)
	if err := h.soundscapeRepo.Create(r.Context(), s); err != nil {
		logger.Error("保存混音失败", logger.Int64("userId", uid), logger.ErrorField(err))
		http.Error(w, "Failed to save soundscape", http.StatusInternalServerError)
		return
	}

	logger.Info("混音已保存", logger.Int64("soundscapeId", s.ID), logger.Int("tracks", len(req.Tracks)))
	writeJSON(w, http.StatusCreated, s)
}

// GetSoundscapeHandler returns one soundscape with its tracks.
func (h *APIHandler) GetSoundscapeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSoundscape(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSoundscapeHandler replaces the name and track list.
func (h *APIHandler) UpdateSoundscapeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSoundscape(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeSoundscape(w, r)
	if !ok {
		return
	}
	if err := h.soundscapeRepo.SaveTracks(r.Context(), s.ID, req.Name, req.Tracks); err != nil {
		logger.Error("更新混音失败", logger.Int64("soundscapeId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to update soundscape", http.StatusInternalServerError)
		return
	}
	s.Name = req.Name
	s.SetTrackStates(req.Tracks)
	writeJSON(w, http.StatusOK, s)
}

// DeleteSoundscapeHandler removes a soundscape.
func (h *APIHandler) DeleteSoundscapeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSoundscape(w, r)
	if !ok {
		return
	}
	if err := h.soundscapeRepo.Delete(r.Context(), s.ID); err != nil {
		logger.Error("删除混音失败", logger.Int64("soundscapeId", s.ID), logger.ErrorField(err))
		http.Error(w, "Failed to delete soundscape", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
