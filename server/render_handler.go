package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundscape/cache"
	"soundscape/core/render"
	"soundscape/logger"
	"soundscape/model"
)

const (
	renderTimeout = 5 * time.Minute
	presignExpiry = 15 * time.Minute
	renderPrefix  = "renders/"
)

// RenderRequest is the body of POST /api/render.
type RenderRequest struct {
	Name            string             `json:"name"`
	Tracks          []model.TrackState `json:"tracks"`
	DurationSeconds float64            `json:"durationSeconds"`
}

type renderFailure struct {
	Error   string `json:"error"`
	Skipped []int  `json:"skipped,omitempty"`
}

// RenderHandler mixes the posted track list down to one MP3.
func (h *APIHandler) RenderHandler(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateTracks(req.Tracks, h.cfg.MaxTracks); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.render(w, r, req.Name, req.Tracks, time.Duration(req.DurationSeconds*float64(time.Second)))
}

// RenderSoundscapeHandler renders a saved soundscape.
func (h *APIHandler) RenderSoundscapeHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSoundscape(w, r)
	if !ok {
		return
	}
	h.render(w, r, s.Name, s.TrackStates(), 0)
}

func (h *APIHandler) render(w http.ResponseWriter, r *http.Request, name string, states []model.TrackState, duration time.Duration) {
	if len(states) == 0 {
		http.Error(w, "At least one track is required", http.StatusBadRequest)
		return
	}
	if duration <= 0 {
		duration = h.cfg.RenderDuration
	}
	filename := safeFilename(name) + ".mp3"
	hash := cache.RequestHash(states, duration)

	if h.serveCachedRender(w, r, hash, filename) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	started := time.Now()
	res, err := h.renders.Submit(ctx, render.NewRequest(states, duration))
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	skipped := skippedIndexes(res)
	logger.Info("渲染完成",
		logger.String("hash", hash),
		logger.Int("included", len(res.Included)),
		logger.Int("skipped", len(skipped)),
		logger.Duration("elapsed", time.Since(started)))

	// partial mixes are not cached
	if len(skipped) == 0 {
		h.storeRender(r.Context(), hash, res.Data)
	} else {
		w.Header().Set("X-Render-Skipped", joinInts(skipped))
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		logger.Warn("发送渲染结果失败", logger.ErrorField(err))
	}
}

// serveCachedRender redirects to the stored object of an identical earlier render.
func (h *APIHandler) serveCachedRender(w http.ResponseWriter, r *http.Request, hash, filename string) bool {
	if h.renderCache == nil || h.store == nil {
		return false
	}
	entry := h.renderCache.Get(r.Context(), hash)
	if entry == nil {
		return false
	}
	url, err := h.store.PresignedGetURL(r.Context(), entry.ObjectKey, filename, presignExpiry)
	if err != nil {
		logger.Warn("生成渲染下载链接失败，重新渲染", logger.String("object", entry.ObjectKey), logger.ErrorField(err))
		return false
	}
	logger.Debug("命中渲染缓存", logger.String("hash", hash))
	http.Redirect(w, r, url, http.StatusFound)
	return true
}

// storeRender uploads a complete mix and records it in the render cache.
// Failures only cost a later cache miss.
func (h *APIHandler) storeRender(ctx context.Context, hash string, data []byte) {
	if h.renderCache == nil || h.store == nil {
		return
	}
	key := renderPrefix + hash + ".mp3"
	if err := h.store.PutObject(ctx, key, data, "audio/mpeg"); err != nil {
		logger.Warn("上传渲染结果失败", logger.String("object", key), logger.ErrorField(err))
		return
	}
	entry := &cache.RenderEntry{ObjectKey: key, Size: len(data), CreatedAt: time.Now()}
	if err := h.renderCache.Set(ctx, hash, entry); err != nil {
		logger.Warn("写入渲染缓存失败", logger.String("hash", hash), logger.ErrorField(err))
	}
}

func (h *APIHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var encErr *render.EncodeError
	switch {
	case errors.Is(err, render.ErrNoValidSources):
		writeJSON(w, http.StatusUnprocessableEntity, renderFailure{Error: "no track source could be found"})
	case errors.Is(err, render.ErrQueueStopped):
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Render timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		logger.Debug("客户端取消了渲染")
	case errors.As(err, &encErr):
		logger.Error("渲染编码失败", logger.ErrorField(err), logger.String("stderr", encErr.Stderr))
		http.Error(w, "Render failed", http.StatusInternalServerError)
	default:
		logger.Error("渲染失败", logger.ErrorField(err))
		http.Error(w, "Render failed", http.StatusInternalServerError)
	}
}

func skippedIndexes(res *render.Result) []int {
	out := make([]int, 0, len(res.Skipped))
	for _, s := range res.Skipped {
		out = append(out, s.Index)
	}
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
