package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/inflight"
	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/session"
	"porky.com/knmt/internal/sysenv"
)

// ReadyProbe checks the optional dependencies (database, redis).
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Backend is the record store behind the gateway.
type Backend interface {
	List(ctx context.Context, sys sysenv.System, filter string) ([]knmt.Record, error)
	Get(ctx context.Context, sys sysenv.System, key knmt.Key) (knmt.Record, error)
	Create(ctx context.Context, sys sysenv.System, rec knmt.Record) error
	Update(ctx context.Context, sys sysenv.System, key knmt.Key, rec knmt.Record) error
	SoftDelete(ctx context.Context, sys sysenv.System, key knmt.Key) error
}

// Options wires the API.
type Options struct {
	Name    string
	Version string
	Ready   ReadyProbe
	Bridge  *session.Bridge
	Backend Backend
	// Entitlements scopes every query; nil disables scoping.
	Entitlements entitlement.Store
	// Guard blocks duplicate writes; nil uses an in-process guard.
	Guard inflight.Guard
	// PublicURL is the externally visible base URL of the UI.
	PublicURL      string
	RateBurst      int
	RatePerSecond  int
	MaxBodyBytes   int64
	AllowedOrigins []string
	// AllowLocalOrigins admits localhost CORS origins; development only.
	AllowLocalOrigins bool
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	opts Options

	bridge  *session.Bridge
	backend Backend
	ents    entitlement.Store
	guard   inflight.Guard

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(opts Options) *API {
	if opts.Name == "" {
		opts.Name = "knmt-gateway"
	}
	a := &API{
		mux:        http.NewServeMux(),
		opts:       opts,
		bridge:     opts.Bridge,
		backend:    opts.Backend,
		ents:       opts.Entitlements,
		guard:      opts.Guard,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSecond,
		maxBody:    opts.MaxBodyBytes,
	}
	if a.guard == nil {
		a.guard = inflight.NewMemory()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// portal handshake
	a.mux.HandleFunc("/auth/callback", a.handleCallback)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)

	// session-protected
	a.mux.Handle("/v1/me", a.withSession(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/v1/requests", a.withSession(http.HandlerFunc(a.handleRequestsCollection)))
	a.mux.Handle("/v1/requests/export.csv", a.withSession(http.HandlerFunc(a.handleExport)))
	a.mux.Handle("/v1/requests/{kunnr}/{vkorg}/{vtweg}/{kdmat...}", a.withSession(http.HandlerFunc(a.handleRequestResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.opts.AllowedOrigins, a.opts.AllowLocalOrigins)
	h = SecurityHeaders(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.opts.Name,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    a.opts.Name,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
