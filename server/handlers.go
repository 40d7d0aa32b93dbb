package server

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"soundscape/cache"
	"soundscape/config"
	"soundscape/core/auth"
	"soundscape/core/render"
	"soundscape/core/session"
	"soundscape/core/stream"
	"soundscape/logger"
	"soundscape/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// RenderSubmitter runs offline renders. *render.Queue implements it.
type RenderSubmitter interface {
	Submit(ctx context.Context, req render.Request) (*render.Result, error)
}

// RenderCache remembers finished renders by request hash. *cache.RenderCache implements it.
type RenderCache interface {
	Get(ctx context.Context, hash string) *cache.RenderEntry
	Set(ctx context.Context, hash string, entry *cache.RenderEntry) error
}

// ObjectStore keeps rendered mixes. *storage.Store implements it.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

// Dependencies are the collaborators of an APIHandler. RenderCache and Store
// may be nil, which disables render caching.
type Dependencies struct {
	Users       repository.UserRepository
	Soundscapes repository.SoundscapeRepository
	Issuer      *auth.Issuer
	Renders     RenderSubmitter
	RenderCache RenderCache
	Store       ObjectStore
	Sessions    *session.Manager
	MP3         *stream.MP3Monitor
	RTC         *stream.RTCMonitor
	Config      *config.Config
}

// APIHandler 处理所有API请求
type APIHandler struct {
	userRepo       repository.UserRepository
	soundscapeRepo repository.SoundscapeRepository
	issuer         *auth.Issuer
	renders        RenderSubmitter
	renderCache    RenderCache
	store          ObjectStore
	sessions       *session.Manager
	mp3            *stream.MP3Monitor
	rtc            *stream.RTCMonitor
	cfg            *config.Config
	upgrader       websocket.Upgrader
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Dependencies) *APIHandler {
	return &APIHandler{
		userRepo:       deps.Users,
		soundscapeRepo: deps.Soundscapes,
		issuer:         deps.Issuer,
		renders:        deps.Renders,
		renderCache:    deps.RenderCache,
		store:          deps.Store,
		sessions:       deps.Sessions,
		mp3:            deps.MP3,
		rtc:            deps.RTC,
		cfg:            deps.Config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter registers every route of the API.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/register", h.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)

	// 混音作品
	router.HandleFunc("/api/soundscapes", h.AuthMiddleware(h.ListSoundscapesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/soundscapes", h.AuthMiddleware(h.CreateSoundscapeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/soundscapes/{id}", h.AuthMiddleware(h.GetSoundscapeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/soundscapes/{id}", h.AuthMiddleware(h.UpdateSoundscapeHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/soundscapes/{id}", h.AuthMiddleware(h.DeleteSoundscapeHandler)).Methods(http.MethodDelete)

	// 离线渲染
	router.HandleFunc("/api/soundscapes/{id}/render", h.AuthMiddleware(h.RenderSoundscapeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/render", h.AuthMiddleware(h.RenderHandler)).Methods(http.MethodPost)

	// 实时混音会话
	router.HandleFunc("/api/sessions", h.AuthMiddleware(h.CreateSessionHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{id}", h.AuthMiddleware(h.GetSessionHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}", h.AuthMiddleware(h.DeleteSessionHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/ws/sessions/{id}", h.AuthMiddleware(h.SessionFeedHandler)).Methods(http.MethodGet)
	router.HandleFunc("/stream/sessions/{id}.mp3", h.AuthMiddleware(h.SessionMP3Handler)).Methods(http.MethodGet)
	router.HandleFunc("/rtc/sessions/{id}", h.AuthMiddleware(h.SessionRTCHandler)).Methods(http.MethodPost)

	return router
}

// 添加 CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition, X-Render-Skipped")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

// pathID parses the {id} route variable as a positive integer.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

// safeFilename turns a soundscape name into a download file name without extension.
func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "soundscape"
	}
	base := multipleSpaces.ReplaceAllString(name, "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")
	if len(base) > 100 {
		base = base[:100]
	}
	if base == "" {
		return "soundscape"
	}
	return base
}
