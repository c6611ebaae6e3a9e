package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tenantauth.org/internal/auth"
)

const maxAuditLimit = 1000

type auditEventResponse struct {
	ID        int64   `json:"id"`
	Username  *string `json:"username"`
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Details   *string `json:"details"`
}

// handleListAudit returns recent audit events, newest first. Admin only.
func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	if !auth.Authorize(actor, auth.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusNotImplemented, "audit log not available")
		return
	}

	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := a.audit.Events(r.Context(), q.Get("username"), limit)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:        e.ID,
			Username:  nullable(e.Username),
			Event:     e.Event,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Details:   nullable(e.Details),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
