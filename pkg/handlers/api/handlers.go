// Package api provides the HTTP API handlers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"media-resolver-go/pkg/appctx"
	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/relay"
)

// Version is reported by /api/info.
const Version = "1.0.0"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Info endpoints
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)

	// Resolution
	mux.HandleFunc("GET /api/resolve", h.handleResolve)
	mux.HandleFunc("GET /api/manifest", h.handleManifest)
	mux.HandleFunc("GET /api/captions", h.handleCaptions)

	// Playback sessions
	if h.ctx.Sessions != nil {
		mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
		mux.HandleFunc("GET /api/sessions/{id}", h.handleGetSession)
		mux.HandleFunc("DELETE /api/sessions/{id}", h.handleDeleteSession)
		mux.HandleFunc("POST /api/sessions/{id}/events", h.handleSessionEvent)
		if h.ctx.Relay != nil {
			mux.HandleFunc("GET /api/sessions/{id}/play", h.handleSessionPlay)
		}
	}

	// Header relay
	if h.ctx.Relay != nil {
		mux.HandleFunc("GET "+relay.ManifestPath, h.ctx.Relay.ServeManifest)
		mux.HandleFunc("GET "+relay.StreamPath, h.ctx.Relay.ServeStream)
	}

	// Watch parties
	if h.ctx.Parties != nil {
		mux.HandleFunc("POST /api/parties", h.handleCreateParty)
		mux.HandleFunc("GET /api/parties/{id}", h.handleGetParty)
		mux.HandleFunc("GET /api/parties/{id}/ws", h.handlePartySocket)
		if h.ctx.Sessions != nil {
			mux.HandleFunc("PUT /api/sessions/{id}/party", h.handleJoinParty)
			mux.HandleFunc("DELETE /api/sessions/{id}/party", h.handleLeaveParty)
		}
	}

	// Background jobs
	if h.ctx.Scheduler != nil {
		mux.HandleFunc("GET /api/tasks", h.handleListTasks)
		mux.HandleFunc("POST /api/tasks/{id}/run", h.handleRunTask)
	}
}

// handleIndex serves a short plain-text overview of the API.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, `Media Resolver %s

GET    /api/resolve?type=movie&tmdb=ID[&season=N&episode=N]
GET    /api/manifest?url=URL[&h_Header=value]
GET    /api/captions?url=URL[&format=vtt|srt][&position=ms]
POST   /api/sessions
GET    /api/sessions/{id}
POST   /api/sessions/{id}/events
GET    /api/sessions/{id}/play
DELETE /api/sessions/{id}
POST   /api/parties
GET    /api/parties/{id}/ws?role=host|guest
GET    /api/tasks
GET    /metrics
`, Version)
	if h.ctx.Relay != nil {
		fmt.Fprintf(w, "GET    %s?url=URL[&h_Header=value]\nGET    %s?url=URL[&h_Header=value]\n", relay.ManifestPath, relay.StreamPath)
	}
	if h.ctx.Config.StremioEnabled {
		fmt.Fprintf(w, "GET    /stremio/manifest.json\n")
	}
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"status":     "running",
		"version":    Version,
		"go":         runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
	if h.ctx.Sessions != nil {
		info["sessions"] = h.ctx.Sessions.Len()
	}
	if h.ctx.Parties != nil {
		info["party_connections"] = h.ctx.Parties.Connections()
	}
	if h.ctx.Scheduler != nil {
		info["tasks"] = h.ctx.Scheduler.ListTasks()
	}
	h.writeJSON(w, http.StatusOK, info)
}

// handleFavicon serves the favicon.
func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// handleListTasks lists the background jobs.
func (h *Handlers) handleListTasks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.Scheduler.ListTasks())
}

// handleRunTask triggers a background job outside its schedule.
func (h *Handlers) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.ctx.Scheduler.GetTask(id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.ctx.Scheduler.RunNow(id); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "id": id})
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
