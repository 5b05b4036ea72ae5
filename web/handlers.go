package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pi-motion-recorder/config"
	"pi-motion-recorder/framestats"
	"pi-motion-recorder/motion"
	"pi-motion-recorder/storage"

	"go.uber.org/zap"
)

// StatusFunc reports one component's state for /api/status.
type StatusFunc func() interface{}

// Handlers manages HTTP request handlers
type Handlers struct {
	config *config.Config
	logger *zap.Logger
	store  *storage.Store
	hub    *Hub

	mu      sync.RWMutex
	sources map[string]StatusFunc
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, store *storage.Store, hub *Hub, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:  cfg,
		logger:  logger,
		store:   store,
		hub:     hub,
		sources: make(map[string]StatusFunc),
	}
}

// AddStatusSource registers a component reported by /api/status
func (h *Handlers) AddStatusSource(name string, fn StatusFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[name] = fn
}

// HandleHome lists the available endpoints
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"service": "pi-motion-recorder",
		"endpoints": []string{
			"/api/status",
			"/api/config",
			"/api/captures",
			"/api/captures/{name}",
			"/api/captures/{name}/stats",
			"/api/captures/{name}/video",
			"/ws/captures",
			"/health",
		},
	})
}

// HandleAPIStatus returns the status of all components
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"server": map[string]interface{}{
			"web_port": h.config.Server.WebPort,
			"running":  true,
		},
	}

	h.mu.RLock()
	for name, fn := range h.sources {
		status[name] = fn()
	}
	h.mu.RUnlock()

	if h.hub != nil {
		status["feed"] = h.hub.GetStats()
	}

	h.writeJSONResponse(w, status)
}

// HandleAPIConfig returns the current configuration
func (h *Handlers) HandleAPIConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, h.config)
}

// HandleAPICaptures lists indexed captures, newest first
func (h *Handlers) HandleAPICaptures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.store.Catalog().List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list captures", zap.Error(err))
		h.writeErrorResponse(w, "Failed to list captures", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"count":    len(entries),
		"captures": entries,
	})
}

// HandleAPICapture returns one capture's summary. Captures missing from the
// catalog fall back to their JSON summary file.
func (h *Handlers) HandleAPICapture(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	entry, err := h.store.Catalog().Get(r.Context(), name)
	if err == nil {
		h.writeJSONResponse(w, entry)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("Failed to look up capture", zap.String("name", name), zap.Error(err))
		h.writeErrorResponse(w, "Failed to look up capture", http.StatusInternalServerError)
		return
	}

	info, err := h.store.Info(name)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		h.logger.Error("Failed to read capture info", zap.String("name", name), zap.Error(err))
		h.writeErrorResponse(w, "Failed to read capture info", http.StatusInternalServerError)
	case info == nil:
		h.writeErrorResponse(w, "Capture not found", http.StatusNotFound)
	default:
		h.writeJSONResponse(w, info)
	}
}

// statsResponse carries decoded frame stats; Error is set when the file was
// only partly readable.
type statsResponse struct {
	Name   string               `json:"name"`
	Count  int                  `json:"count"`
	Frames []motion.FrameMetric `json:"frames"`
	Error  string               `json:"error,omitempty"`
}

// HandleAPICaptureStats returns the decoded per-frame statistics of a capture
func (h *Handlers) HandleAPICaptureStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	frames, err := h.store.Stats(name)
	resp := statsResponse{Name: name, Frames: frames}
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidName):
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist):
		h.writeErrorResponse(w, "Capture not found", http.StatusNotFound)
		return
	case errors.Is(err, framestats.ErrVersionMismatch), errors.Is(err, framestats.ErrTruncated):
		h.logger.Warn("Frame stats partly readable", zap.String("name", name), zap.Error(err))
		resp.Error = err.Error()
	default:
		h.logger.Error("Failed to read frame stats", zap.String("name", name), zap.Error(err))
		h.writeErrorResponse(w, "Failed to read frame stats", http.StatusInternalServerError)
		return
	}

	if resp.Frames == nil {
		resp.Frames = []motion.FrameMetric{}
	}
	resp.Count = len(resp.Frames)
	h.writeJSONResponse(w, resp)
}

// HandleAPICaptureVideo serves the raw H.264 elementary stream of a capture
func (h *Handlers) HandleAPICaptureVideo(w http.ResponseWriter, r *http.Request) {
	path, err := h.store.Path(r.PathValue("name"), storage.VideoExt)
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "video/h264")
	http.ServeFile(w, r, path)
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]interface{}{
		"web_server": "running",
	}
	if h.hub != nil {
		services["capture_feed"] = h.hub.GetClientCount()
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	json.NewEncoder(w).Encode(errorResponse)
}
