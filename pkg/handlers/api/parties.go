package api

import (
	"errors"
	"net/http"

	"media-resolver-go/pkg/session"
	"media-resolver-go/pkg/watchparty"
)

// handleCreateParty opens a new watch party. It stays closed until a host
// connects.
func (h *Handlers) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	id, err := h.ctx.Parties.Document().Create(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("watch party created", "party_id", id)
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"id":     id,
		"socket": "/api/parties/" + id + "/ws",
	})
}

// handleGetParty returns the party's shared document.
func (h *Handlers) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.ctx.Parties.Document().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, partyStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"state":  snap.State,
		"closed": snap.Closed,
		"hosts":  h.ctx.Parties.HostCount(id),
	})
}

// handlePartySocket upgrades to the party websocket. role is host or guest
// and defaults to guest.
func (h *Handlers) handlePartySocket(w http.ResponseWriter, r *http.Request) {
	role := watchparty.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = watchparty.RoleGuest
	}
	if err := h.ctx.Parties.ServeWS(w, r, r.PathValue("id"), role); err != nil {
		h.writeError(w, partyStatus(err), err.Error())
	}
}

type joinPartyRequest struct {
	PartyID string          `json:"party_id"`
	Role    watchparty.Role `json:"role"`
}

// handleJoinParty attaches a session to a party as host or guest. Role
// defaults to guest.
func (h *Handlers) handleJoinParty(w http.ResponseWriter, r *http.Request) {
	var req joinPartyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.PartyID == "" {
		h.writeError(w, http.StatusBadRequest, "party_id is required")
		return
	}
	if req.Role == "" {
		req.Role = watchparty.RoleGuest
	}

	snap, err := h.ctx.Sessions.JoinParty(r.Context(), r.PathValue("id"), req.PartyID, req.Role)
	if err != nil {
		h.writeError(w, sessionPartyStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// handleLeaveParty detaches a session from its party.
func (h *Handlers) handleLeaveParty(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctx.Sessions.LeaveParty(r.PathValue("id"))
	if err != nil {
		h.writeError(w, sessionStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func sessionPartyStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, watchparty.ErrPartyNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidPartyRole):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPartiesDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func partyStatus(err error) int {
	if errors.Is(err, watchparty.ErrPartyNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
