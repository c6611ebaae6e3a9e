package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/auth"
)

// multipartMemory bounds the in-memory part of a multipart /token body.
const multipartMemory = 32 << 10

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleToken exchanges a username/password pair for a bearer token. It
// accepts the OAuth2 password form encoding as well as a JSON body.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	decision, err := a.limiter.Allow(r.Context(), clientIP(r))
	if err != nil {
		a.logger.WithError(err).Warn("login rate limiter unavailable")
	} else if !decision.Allowed {
		secs := int(math.Ceil(decision.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	req, err := readCredentials(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, tok, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailure) {
			writeError(w, r, http.StatusBadRequest, "Incorrect username or password")
			return
		}
		a.internalError(w, r, err)
		return
	}

	a.logger.WithFields(logrus.Fields{
		"username": principal.Username,
		"role":     principal.Role,
	}).Debug("token issued")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: tok.Value,
		TokenType:   tok.Type,
		Role:        principal.Role.String(),
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt).Seconds()),
	})
}

func readCredentials(r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	if isFormRequest(r) {
		var err error
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			err = r.ParseMultipartForm(multipartMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return req, errors.New("invalid form body")
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return req, errors.New("username and password are required")
	}
	return req, nil
}
