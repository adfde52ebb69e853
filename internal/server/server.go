package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bountyboard/internal/config"
	"bountyboard/internal/engine"
	"bountyboard/internal/metrics"
	"bountyboard/internal/registry"
	"bountyboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Registry *registry.Cache
	Cfg      *config.Config
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"claim not possible in the bounty's current state"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bounty board API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	basePath := cfg.Cfg.Server.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.Log))
	router.Use(corsMiddleware(cfg.Cfg.CORS.AllowedOrigins))
	registerLegacyRedirects(router, basePath)
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Bounty Board API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg)
	registerStats(group, cfg)
	registerBounties(group, cfg)
	registerServices(group, cfg)
	registerAgents(group, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var forbidden *engine.ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var conflict *engine.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", verr.Error(), map[string]any{"field": verr.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadGateway:
		return "upstream_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status/100*100)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", requestID)
		})
	}
}

func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	set := map[string]bool{}
	for _, o := range allowed {
		set[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (set["*"] || set[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match, X-Admin-Secret")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const legacySunset = "Sun, 01 Mar 2026 00:00:00 GMT"

// registerLegacyRedirects keeps the pre-versioned paths alive with 307s so
// old clients retain method and body, marked deprecated.
func registerLegacyRedirects(router chi.Router, basePath string) {
	redirect := func(prefix string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			rest := strings.TrimPrefix(r.URL.Path, "/api/"+prefix)
			target := path.Join(basePath, prefix) + rest
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			w.Header().Set("Deprecation", "true")
			w.Header().Set("Sunset", legacySunset)
			w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, target))
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		}
	}
	for _, prefix := range []string{"bounties", "services", "agents"} {
		router.HandleFunc("/api/"+prefix, redirect(prefix))
		router.HandleFunc("/api/"+prefix+"/*", redirect(prefix))
	}
}

func registerHealth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		out := HealthResponse{Status: "ok", Storage: "ok", Registry: cfg.Registry.Health()}
		if err := cfg.Engine.DB.PingContext(ctx); err != nil {
			out.Status = "degraded"
			out.Storage = "unreachable"
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerStats(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Marketplace statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		counts, err := cfg.Engine.Repo.CountBountiesByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		services, err := cfg.Engine.Repo.CountServices(ctx, repo.ServiceFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		agents := len(cfg.Registry.Agents(ctx))
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: StatsResponse{
			Bounties:       counts,
			ActiveServices: services,
			RegistryAgents: agents,
			CacheHealth:    cfg.Registry.Health(),
		}}, nil
	})
}

// requireAdmin guards operator endpoints with the shared admin secret. An
// unset secret disables them entirely.
func requireAdmin(cfg Config, provided string) error {
	secret := cfg.Cfg.Auth.AdminSecret
	if secret == "" {
		return newAPIError(http.StatusForbidden, "forbidden", "operator endpoints are disabled", nil)
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return newAPIError(http.StatusForbidden, "forbidden", "invalid admin secret", nil)
	}
	return nil
}

// validateCallbackURL rejects callback targets that could reach internal
// infrastructure when webhooks fire.
func validateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "callback_url must be an http(s) URL", map[string]any{"field": "callback_url"})
	}
	host := u.Hostname()
	if host == "" {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "callback_url must include a host", map[string]any{"field": "callback_url"})
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "callback_url host is not allowed", map[string]any{"field": "callback_url"})
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "callback_url host is not allowed", map[string]any{"field": "callback_url"})
		}
	}
	return nil
}
