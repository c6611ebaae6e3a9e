// Package client talks to a running tenantauth server over HTTP and gRPC.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tenantauth.org/internal/auth"
)

// APIError is a non-2xx response. It unwraps to the auth error matching the
// status code so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%d %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return mapStatus(e.StatusCode) }

func mapStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return auth.ErrInvalidCredential
	case http.StatusForbidden:
		return auth.ErrPermissionDenied
	case http.StatusNotFound:
		return auth.ErrNotFound
	case http.StatusConflict:
		return auth.ErrConflict
	case http.StatusBadRequest:
		return auth.ErrInvalidInput
	default:
		return nil
	}
}

// Token is the /token response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Organization is an entry of GET /orgs.
type Organization struct {
	OrgID string  `json:"org_id"`
	Name  *string `json:"name"`
}

// User is an entry of GET /orgs/{org_id}/users.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Client is a thin HTTP client for the API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New returns a client for baseURL. A nil hc uses a client with a 10s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login exchanges credentials for a token using the form encoding.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var tok Token
	if err := c.send(req, &tok); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return Token{}, fmt.Errorf("%w: %v", auth.ErrAuthFailure, err)
		}
		return Token{}, err
	}
	return tok, nil
}

// ListOrganizations returns the organizations visible to the token holder.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var body struct {
		Orgs []Organization `json:"orgs"`
	}
	if err := c.call(ctx, http.MethodGet, "/orgs", nil, &body); err != nil {
		return nil, err
	}
	return body.Orgs, nil
}

// CreateOrganization registers an organization. Admin only.
func (c *Client) CreateOrganization(ctx context.Context, orgID, name string) (Organization, error) {
	var org Organization
	err := c.call(ctx, http.MethodPost, "/admin/orgs", map[string]string{"org_id": orgID, "org_name": name}, &org)
	return org, err
}

// CreateUser adds a user to orgID.
func (c *Client) CreateUser(ctx context.Context, orgID, username, password, role string) error {
	return c.call(ctx, http.MethodPost, "/orgs/"+url.PathEscape(orgID)+"/users", map[string]string{
		"username": username,
		"password": password,
		"role":     role,
	}, nil)
}

// ListUsers returns the users of orgID.
func (c *Client) ListUsers(ctx context.Context, orgID string) ([]User, error) {
	var body struct {
		Users []User `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, "/orgs/"+url.PathEscape(orgID)+"/users", nil, &body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

// DeleteUser removes username from orgID.
func (c *Client) DeleteUser(ctx context.Context, orgID, username string) error {
	return c.call(ctx, http.MethodDelete, "/orgs/"+url.PathEscape(orgID)+"/users/"+url.PathEscape(username), nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error, RequestID: payload.RequestID}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
