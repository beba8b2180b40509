package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Handler HTTP 請求處理器
type Handler struct {
	matchmaker     *Matchmaker
	registry       *Registry
	hub            *Hub
	logger         *slog.Logger
	allowedOrigins []string
}

// NewHandler 建立 HTTP 處理器
func NewHandler(matchmaker *Matchmaker, registry *Registry, hub *Hub, logger *slog.Logger, allowedOrigins []string) *Handler {
	return &Handler{
		matchmaker:     matchmaker,
		registry:       registry,
		hub:            hub,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(h.cors(handler)))
	}

	mux.HandleFunc("POST /api/find-room", wrap(h.findRoom))
	mux.HandleFunc("POST /api/check-room", wrap(h.checkRoom))
	mux.HandleFunc("OPTIONS /api/", wrap(h.preflight))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type findRoomRequest struct {
	UserID   string `json:"userId"`
	Duration int    `json:"duration"`
}

// checkRoomRequest 兩種欄位名稱都接受，沿用較早版本客戶端的 roomId
type checkRoomRequest struct {
	Room   string `json:"room"`
	RoomID string `json:"roomId"`
}

func (r checkRoomRequest) roomID() string {
	if r.Room != "" {
		return r.Room
	}
	return r.RoomID
}

// findRoom 替玩家配對房間
func (h *Handler) findRoom(w http.ResponseWriter, r *http.Request) {
	var req findRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	result, err := h.matchmaker.FindOrJoin(req.UserID, req.Duration)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlayerIDRequired):
			h.errorResponse(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrAlreadyInSession):
			h.errorResponse(w, err.Error(), http.StatusForbidden)
		default:
			h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.jsonResponse(w, map[string]any{
		"roomId":   result.RoomID,
		"status":   result.Status,
		"duration": result.Duration,
	}, http.StatusOK)
}

// checkRoom 唯讀查詢房間是否存在
func (h *Handler) checkRoom(w http.ResponseWriter, r *http.Request) {
	var req checkRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	result, err := h.matchmaker.Exists(req.roomID())
	if err != nil {
		h.jsonResponse(w, map[string]any{"exists": false}, http.StatusNotFound)
		return
	}

	h.jsonResponse(w, map[string]any{
		"exists":   true,
		"status":   result.Status,
		"duration": result.Duration,
	}, http.StatusOK)
}

// health 存活探測，純文字回應
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()
	stats["connections"] = h.hub.ConnectionCount()
	h.jsonResponse(w, stats, http.StatusOK)
}

// preflight CORS 預檢
func (h *Handler) preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"message": message,
	}, status)
}

// cors 依允許清單回應跨來源標頭，清單為空時不限制
func (h *Handler) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, h.allowedOrigins) {
			if len(h.allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next(w, r)
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
