// Package sap talks to the KNMT OData service through the MCP gateway.
//
// Reads are lenient: an unparseable envelope is logged and treated as no
// records. Writes are strict: anything but a clean envelope is an error.
package sap

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"porky.com/knmt/internal/envelope"
	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/sysenv"
)

var (
	// ErrNetworkFailure means the backend could not be reached or answered
	// with a transport-level failure.
	ErrNetworkFailure = errors.New("sap: network failure")
	// ErrNotFound means a keyed read matched no record.
	ErrNotFound = errors.New("sap: record not found")
)

// defaultMaxResponseBytes caps a backend response unless Config overrides it.
const defaultMaxResponseBytes = 32 << 20

// Header names understood by the MCP gateway.
const (
	HeaderSystem = "X-PORKY-SYSID"
	HeaderAuth   = "X-PORKY-AUTH"
	HeaderAppID  = "X-PORKY-APPID"
	HeaderAPIKey = "X-PORKY-APIKEY"
)

// Config locates the service and carries its credentials.
type Config struct {
	BaseURL       string
	ServiceName   string
	EntitySet     string
	AppID         string
	APIKey        string
	AuthToken     string
	BasicUser     string
	BasicPassword string
	Timeout       time.Duration
	// MaxResponseBytes rejects larger bodies as a network failure.
	MaxResponseBytes int64
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
	log    *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (tests use httptest servers).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// New validates cfg and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sap: invalid base url %q", cfg.BaseURL)
	}
	if cfg.ServiceName == "" || cfg.EntitySet == "" {
		return nil, errors.New("sap: service name and entity set are required")
	}
	cfg.BaseURL = u.String()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tracer: otel.Tracer("porky.com/knmt/internal/sap"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = obs.Logger()
	}
	return c, nil
}

// EntityURL builds {base}/sap/services/{service}/entities/{set}[/{key}][?$filter=].
func (c *Client) EntityURL(key, filter string) string {
	var b strings.Builder
	b.WriteString(c.cfg.BaseURL)
	b.WriteString("/sap/services/")
	b.WriteString(url.PathEscape(c.cfg.ServiceName))
	b.WriteString("/entities/")
	b.WriteString(url.PathEscape(c.cfg.EntitySet))
	if key != "" {
		b.WriteByte('/')
		b.WriteString(escapeKey(key))
	}
	if filter != "" {
		b.WriteString("?$filter=")
		b.WriteString(url.QueryEscape(filter))
	}
	return b.String()
}

// escapeKey escapes the entity key for a path segment but keeps the OData
// punctuation (=, ', ",") readable for the gateway.
func escapeKey(key string) string {
	var b strings.Builder
	for _, part := range strings.Split(key, ",") {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.ReplaceAll(url.PathEscape(part), "%27", "'"))
	}
	return b.String()
}

// List returns the records matching an OData $filter (may be empty).
// Duplicate keys are dropped, first occurrence wins.
func (c *Client) List(ctx context.Context, sys sysenv.System, filter string) ([]knmt.Record, error) {
	body, err := c.do(ctx, "list", sys, http.MethodGet, c.EntityURL("", filter), nil)
	if err != nil {
		return nil, err
	}
	res, err := envelope.NormalizeLenient(body)
	if err != nil {
		return nil, err
	}
	obs.ObserveEnvelope(string(res.Shape))
	recs := envelope.DecodeEach[knmt.Record](res, func(i int, err error) {
		c.log.Warn("sap_record_undecodable", zap.Int("index", i), zap.Error(err))
	})
	out, dropped := knmt.Dedupe(recs)
	for _, k := range dropped {
		c.log.Warn("sap_duplicate_record", zap.String("key", k.String()))
	}
	return out, nil
}

// Get reads one record by key. It lists with a key filter and picks the
// exact match, since the gateway answers keyed reads with the same
// envelopes as collection reads.
func (c *Client) Get(ctx context.Context, sys sysenv.System, key knmt.Key) (knmt.Record, error) {
	key = key.Normalize()
	recs, err := c.List(ctx, sys, knmt.KeyFilter(key))
	if err != nil {
		return knmt.Record{}, err
	}
	for _, r := range recs {
		if r.Key() == key {
			return r, nil
		}
	}
	return knmt.Record{}, ErrNotFound
}

// Create posts a new record.
func (c *Client) Create(ctx context.Context, sys sysenv.System, rec knmt.Record) error {
	return c.write(ctx, "create", sys, http.MethodPost, c.EntityURL("", ""), rec)
}

// Update patches the record identified by key.
func (c *Client) Update(ctx context.Context, sys sysenv.System, key knmt.Key, rec knmt.Record) error {
	return c.write(ctx, "update", sys, http.MethodPatch, c.EntityURL(key.EntityKey(), ""), rec)
}

// SoftDelete marks the record deleted (trtyp 'L'); nothing is removed.
func (c *Client) SoftDelete(ctx context.Context, sys sysenv.System, key knmt.Key) error {
	return c.write(ctx, "delete", sys, http.MethodPatch, c.EntityURL(key.EntityKey(), ""), knmt.DeletePatch(key))
}

func (c *Client) write(ctx context.Context, op string, sys sysenv.System, method, target string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sap: encode %s payload: %w", op, err)
	}
	body, err := c.do(ctx, op, sys, method, target, buf)
	if err != nil {
		return err
	}
	if _, err := envelope.Normalize(body); err != nil {
		return err
	}
	return nil
}

// do performs one call. Non-2xx answers whose body carries a business
// error surface as *envelope.BackendError; other failures wrap
// ErrNetworkFailure.
func (c *Client) do(ctx context.Context, op string, sys sysenv.System, method, target string, payload []byte) ([]byte, error) {
	if sys == "" {
		sys = sysenv.PRD
	}
	ctx, span := c.tracer.Start(ctx, "sap."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("knmt.system", string(sys)),
		))
	defer span.End()

	start := time.Now()
	outcome := "error"
	defer func() {
		obs.ObserveBackendCall(op, string(sys), outcome, time.Since(start))
	}()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("sap: build request: %w", err)
	}
	c.setHeaders(req, sys)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		if ctx.Err() != nil {
			outcome = "canceled"
			return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, ctx.Err())
		}
		c.log.Warn("sap_call_failed", zap.String("operation", op), zap.String("system", string(sys)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("%w: read body: %v", ErrNetworkFailure, err)
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		span.SetStatus(codes.Error, "response too large")
		outcome = "too_large"
		c.log.Warn("sap_response_too_large",
			zap.String("operation", op),
			zap.String("system", string(sys)),
			zap.Int64("limit", c.cfg.MaxResponseBytes),
		)
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrNetworkFailure, c.cfg.MaxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		if _, nerr := envelope.Normalize(body); nerr != nil {
			if be, ok := envelope.AsBackendError(nerr); ok {
				outcome = "business_error"
				return nil, be
			}
		}
		c.log.Warn("sap_call_rejected",
			zap.String("operation", op),
			zap.String("system", string(sys)),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: %s", ErrNetworkFailure, resp.Status)
	}
	outcome = "ok"
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, sys sysenv.System) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSystem, string(sys))
	if c.cfg.AuthToken != "" {
		req.Header.Set(HeaderAuth, c.cfg.AuthToken)
	}
	if c.cfg.AppID != "" {
		req.Header.Set(HeaderAppID, c.cfg.AppID)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	}
	if c.cfg.BasicUser != "" {
		req.SetBasicAuth(c.cfg.BasicUser, c.cfg.BasicPassword)
	}
}
