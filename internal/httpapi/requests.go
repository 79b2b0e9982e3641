package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"porky.com/knmt/internal/audit"
	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/inflight"
	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/session"
)

// recordView adds presentation fields to a record.
type recordView struct {
	knmt.Record
	StatusState string `json:"statusState"`
}

func viewOf(rec knmt.Record) recordView {
	if rec.StatusText == "" {
		rec.StatusText = rec.Status.Text()
	}
	return recordView{Record: rec, StatusState: rec.Status.State()}
}

type listResponse struct {
	Items  []recordView `json:"items"`
	Count  int          `json:"count"`
	System string       `json:"system"`
	AsOf   time.Time    `json:"as_of"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRequests(w, r)
	case http.MethodPost:
		a.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	key := knmt.Key{
		Kunnr: r.PathValue("kunnr"),
		Vkorg: r.PathValue("vkorg"),
		Vtweg: r.PathValue("vtweg"),
		Kdmat: r.PathValue("kdmat"),
	}
	if key.Vtweg == "-" {
		key.Vtweg = ""
	}
	key = key.Normalize()
	if !key.Complete() {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRequest(w, r, key)
	case http.MethodPatch, http.MethodPut:
		a.updateRequest(w, r, key)
	case http.MethodDelete:
		a.deleteRequest(w, r, key)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// fetch runs the scoped backend query and applies the local filter.
func (a *API) fetch(r *http.Request) ([]knmt.Record, error) {
	filter, err := parseFilter(r)
	if err != nil {
		return nil, &knmt.ValidationError{Fields: []knmt.FieldError{{Field: "filter", Message: err.Error()}}}
	}
	scope, err := a.scopeFilter(r)
	if err != nil {
		return nil, err
	}
	recs, err := a.backend.List(r.Context(), systemFromContext(r.Context()), scope)
	if err != nil {
		return nil, err
	}
	return filter.Apply(recs), nil
}

// scopeFilter renders the user's entitlements as an OData filter.
func (a *API) scopeFilter(r *http.Request) (string, error) {
	ents, err := a.entitlements(r)
	if err != nil {
		return "", err
	}
	return entitlement.Filter(ents), nil
}

// entitlements returns nil, nil when scoping is disabled.
func (a *API) entitlements(r *http.Request) ([]entitlement.Entitlement, error) {
	if a.ents == nil {
		return nil, nil
	}
	s, _ := session.FromContext(r.Context())
	return a.ents.ForUser(r.Context(), s.Email, systemFromContext(r.Context()))
}

func (a *API) allowed(r *http.Request, key knmt.Key) error {
	ents, err := a.entitlements(r)
	if err != nil {
		return err
	}
	if a.ents != nil && !entitlement.Allows(ents, key) {
		return errForbidden
	}
	return nil
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	recs, err := a.fetch(r)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	items := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:  items,
		Count:  len(items),
		System: string(systemFromContext(r.Context())),
		AsOf:   time.Now().UTC(),
	})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	recs, err := a.fetch(r)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	excel := parseBool(r.URL.Query().Get("excel"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="knmt-requests.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := knmt.WriteCSV(w, recs, knmt.ExportOptions{Excel: excel}); err != nil {
		obs.Logger().Warn("export_write_failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.export", map[string]any{"rows": len(recs), "excel": excel})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, key knmt.Key) {
	if err := a.allowed(r, key); err != nil {
		handleBackendError(w, r, err)
		return
	}
	rec, err := a.backend.Get(r.Context(), systemFromContext(r.Context()), key)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var in knmt.Record
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec := knmt.PrepareCreate(in)
	a.write(w, r, "create", rec.Key(), http.StatusCreated, rec, func() error {
		return a.backend.Create(r.Context(), systemFromContext(r.Context()), rec)
	})
}

func (a *API) updateRequest(w http.ResponseWriter, r *http.Request, key knmt.Key) {
	var in knmt.Record
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec := knmt.PrepareUpdate(key, in)
	a.write(w, r, "update", key, http.StatusOK, rec, func() error {
		return a.backend.Update(r.Context(), systemFromContext(r.Context()), key, rec)
	})
}

func (a *API) deleteRequest(w http.ResponseWriter, r *http.Request, key knmt.Key) {
	if err := a.allowed(r, key); err != nil {
		handleBackendError(w, r, err)
		return
	}
	release, err := a.acquire(r, "delete", key)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	defer release()
	if err := a.backend.SoftDelete(r.Context(), systemFromContext(r.Context()), key); err != nil {
		handleBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.delete", map[string]any{"key": key.EntityKey()})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "key": key})
}

// write validates, authorizes and guards one create or update.
func (a *API) write(w http.ResponseWriter, r *http.Request, op string, key knmt.Key, okStatus int, rec knmt.Record, call func() error) {
	if err := knmt.Validate(rec); err != nil {
		handleBackendError(w, r, err)
		return
	}
	if err := a.allowed(r, key); err != nil {
		handleBackendError(w, r, err)
		return
	}
	release, err := a.acquire(r, op, key)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	defer release()
	if err := call(); err != nil {
		handleBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request."+op, map[string]any{
		"key":    key.EntityKey(),
		"status": string(rec.Status),
	})
	writeJSON(w, okStatus, viewOf(rec))
}

func (a *API) acquire(r *http.Request, op string, key knmt.Key) (inflight.Release, error) {
	s, _ := session.FromContext(r.Context())
	return a.guard.Acquire(r.Context(), inflight.Key{User: s.UserID, Operation: op, Record: key.EntityKey()})
}

func parseFilter(r *http.Request) (knmt.Filter, error) {
	q := r.URL.Query()
	f := knmt.DefaultFilter(q.Get("kunnr"), q.Get("vkorg"), q.Get("kdmat"), q.Get("status"))
	f.Any = strings.EqualFold(q.Get("match"), "any")
	var err error
	if f.Created, err = parseRange(q.Get("created_from"), q.Get("created_to")); err != nil {
		return knmt.Filter{}, err
	}
	if f.Changed, err = parseRange(q.Get("changed_from"), q.Get("changed_to")); err != nil {
		return knmt.Filter{}, err
	}
	return f, f.Validate()
}

func parseRange(from, to string) (knmt.DateRange, error) {
	var dr knmt.DateRange
	for _, p := range []struct {
		raw string
		dst *time.Time
	}{{from, &dr.From}, {to, &dr.To}} {
		if strings.TrimSpace(p.raw) == "" {
			continue
		}
		t, ok := knmt.ParseDate(p.raw)
		if !ok {
			return dr, errors.New("dates must be YYYY-MM-DD")
		}
		*p.dst = t
	}
	return dr, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errors.New("request body too large")
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
