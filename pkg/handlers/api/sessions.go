package api

import (
	"errors"
	"net/http"

	"media-resolver-go/pkg/session"
	"media-resolver-go/pkg/types"
)

// sessionError carries the session state alongside a failed event so the
// player can render the notice or the terminal error.
type sessionError struct {
	Error   string           `json:"error"`
	Session session.Snapshot `json:"session"`
}

// handleCreateSession starts a playback session for the media in the body.
// A failed resolution still creates the session; its snapshot carries the
// error and a retry event reloads it.
func (h *Handlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var media types.MediaReference
	if !h.decodeJSON(w, r, &media) {
		return
	}
	if err := media.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.ctx.Sessions.Create(r.Context(), media)
	if err != nil {
		h.log.Info("session load failed", "session_id", snap.ID, "error", err)
	}
	w.Header().Set("Location", "/api/sessions/"+snap.ID)
	h.writeJSON(w, http.StatusCreated, snap)
}

// handleGetSession returns a session snapshot.
func (h *Handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctx.Sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, sessionStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// handleDeleteSession closes a session.
func (h *Handlers) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.ctx.Sessions.Remove(r.PathValue("id")) {
		h.writeError(w, http.StatusNotFound, session.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionPlay redirects the player to the session's active rendition
// through the relay, which attaches the source's headers upstream.
func (h *Handlers) handleSessionPlay(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctx.Sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, sessionStatus(err), err.Error())
		return
	}
	if snap.Source == nil {
		h.writeError(w, http.StatusConflict, "session has no playable source")
		return
	}

	target := snap.ActiveURI
	if target == "" {
		target = snap.Source.URI
	}
	location := h.ctx.Relay.URL(target, snap.Source.Headers)
	if snap.Source.IsAdaptive() {
		location = h.ctx.Relay.PlaylistURL(target, snap.Source.Headers)
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// handleSessionEvent applies a player report or viewer action.
func (h *Handlers) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	var ev session.Event
	if !h.decodeJSON(w, r, &ev) {
		return
	}
	if ev.Type == session.EventEpisode {
		if ev.Media == nil {
			h.writeError(w, http.StatusBadRequest, "episode event requires media")
			return
		}
		if err := ev.Media.Validate(); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id := r.PathValue("id")
	snap, err := h.ctx.Sessions.Dispatch(r.Context(), id, ev)
	if err != nil {
		status := sessionStatus(err)
		if status == http.StatusNotFound {
			h.writeError(w, status, err.Error())
			return
		}
		h.log.Debug("session event rejected", "session_id", id, "event", ev.Type, "error", err)
		h.writeJSON(w, status, sessionError{Error: err.Error(), Session: snap})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// sessionStatus maps session errors to HTTP status codes.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownEvent), errors.Is(err, session.ErrUnknownTrack):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrVariantUnavailable),
		errors.Is(err, session.ErrSwitchSuperseded):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
