package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"tenantauth.org/internal/auth"
)

type orgRequest struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
}

type orgResponse struct {
	OrgID string  `json:"org_id"`
	Name  *string `json:"name"`
}

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	Username string  `json:"username"`
	Role     string  `json:"role"`
	OrgID    *string `json:"org_id,omitempty"`
}

func toOrgResponse(o *auth.Organization) orgResponse {
	return orgResponse{OrgID: o.ID, Name: nullable(o.Name)}
}

// serviceError maps service errors onto status codes. notFound is the message
// used for ErrNotFound, conflict the one for ErrConflict.
func (a *API) serviceError(w http.ResponseWriter, r *http.Request, err error, notFound, conflict string) {
	switch {
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFound)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, conflict)
	case errors.Is(err, auth.ErrInvalidCredential):
		unauthorized(w, r)
	default:
		a.internalError(w, r, err)
	}
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req orgRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganization(r.Context(), actor, req.OrgID, req.OrgName)
	if err != nil {
		a.serviceError(w, r, err, "Org not found", "Org already exists")
		return
	}
	writeJSON(w, http.StatusCreated, toOrgResponse(org))
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	orgs, err := a.svc.ListOrganizations(r.Context(), actor)
	if err != nil {
		a.serviceError(w, r, err, "Org not found", "Org already exists")
		return
	}
	out := make([]orgResponse, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, toOrgResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orgs": out})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	orgID := mux.Vars(r)["org_id"]

	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.CreateUser(r.Context(), actor, orgID, auth.NewUser{
		Username: req.Username,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		a.serviceError(w, r, err, "Org not found", "User exists")
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		Username: user.Username,
		Role:     user.Role.String(),
		OrgID:    nullable(user.OrgID),
	})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	users, err := a.svc.ListUsers(r.Context(), actor, mux.Vars(r)["org_id"])
	if err != nil {
		a.serviceError(w, r, err, "Org not found", "User exists")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{Username: u.Username, Role: u.Role.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	username := vars["username"]
	if err := a.svc.DeleteUser(r.Context(), actor, vars["org_id"], username); err != nil {
		a.serviceError(w, r, err, "User not found in org", "User exists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": username})
}
