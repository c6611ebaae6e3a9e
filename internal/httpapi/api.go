package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/obs"
	"tenantauth.org/internal/ratelimit"
)

// ServiceName is reported by health endpoints.
const ServiceName = "tenantauth"

const defaultMaxBodyBytes = 1 << 20

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error { return f(ctx) }

// AllReady reports the first failing checker. Nil entries are skipped.
func AllReady(checks ...ReadinessChecker) ReadinessChecker {
	return ReadyFunc(func(ctx context.Context) error {
		for _, c := range checks {
			if c == nil {
				continue
			}
			if err := c.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// AuditReader lists recorded audit events.
type AuditReader interface {
	Events(ctx context.Context, username string, limit int) ([]audit.Event, error)
}

// Options configures the HTTP layer. Zero values select permissive defaults.
type Options struct {
	Version        string
	AllowedOrigins []string
	TrustedProxies []string
	MaxBodyBytes   int64
	Limiter        ratelimit.Limiter
	Metrics        *obs.Metrics
	Logger         logrus.FieldLogger
	Ready          ReadinessChecker
	Audit          AuditReader
}

// API is the HTTP surface of the service.
type API struct {
	router  *mux.Router
	svc     *auth.Service
	limiter ratelimit.Limiter
	metrics *obs.Metrics
	logger  logrus.FieldLogger
	ready   ReadinessChecker
	audit   AuditReader
	proxies TrustedProxies
	opts    Options
}

// New wires routes onto a gorilla/mux router.
func New(svc *auth.Service, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Metrics == nil {
		opts.Metrics = obs.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		opts.Logger.WithError(err).Warn("ignoring trusted proxies")
		proxies = nil
	}
	a := &API{
		router:  mux.NewRouter(),
		svc:     svc,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		ready:   opts.Ready,
		audit:   opts.Audit,
		proxies: proxies,
		opts:    opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(a.metrics.Instrument)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/token", a.handleToken).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.withAuth)
	protected.HandleFunc("/admin/orgs", a.handleCreateOrganization).Methods(http.MethodPost)
	protected.HandleFunc("/admin/audit", a.handleListAudit).Methods(http.MethodGet)
	protected.HandleFunc("/orgs", a.handleListOrganizations).Methods(http.MethodGet)
	protected.HandleFunc("/orgs/{org_id}/users", a.handleCreateUser).Methods(http.MethodPost)
	protected.HandleFunc("/orgs/{org_id}/users", a.handleListUsers).Methods(http.MethodGet)
	protected.HandleFunc("/orgs/{org_id}/users/{username}", a.handleDeleteUser).Methods(http.MethodDelete)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = Logging(a.logger)(h)
	h = ClientIP(a.proxies)(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": ServiceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.WithFields(logrus.Fields{
		"request_id": audit.RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func isFormRequest(r *http.Request) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
