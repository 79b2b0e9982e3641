package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/envelope"
	"porky.com/knmt/internal/inflight"
	"porky.com/knmt/internal/knmt"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/sap"
)

var errForbidden = errors.New("record is outside your entitlements")

const networkMessage = "Network error: please check your connection and try again"

func handleBackendError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *knmt.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErrorFields(w, r, http.StatusBadRequest, "validation failed", "", ve.Fields)
	case errors.Is(err, inflight.ErrInFlight):
		writeError(w, r, http.StatusConflict, "an identical request is already being processed")
	case errors.Is(err, errForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, entitlement.ErrNoEntitlements):
		writeError(w, r, http.StatusForbidden, "no customers are assigned to your account")
	case errors.Is(err, sap.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "record not found")
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request canceled")
	case errors.Is(err, sap.ErrNetworkFailure):
		writeError(w, r, http.StatusBadGateway, networkMessage)
	case errors.Is(err, envelope.ErrMalformedEnvelope):
		logFailure(r, err)
		writeError(w, r, http.StatusBadGateway, "unexpected response from backend")
	default:
		if be, ok := envelope.AsBackendError(err); ok {
			writeErrorFields(w, r, http.StatusUnprocessableEntity, be.Message, be.Code, knmt.MapFieldErrors(be))
			return
		}
		logFailure(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func logFailure(r *http.Request, err error) {
	obs.Logger().Error("request_failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeErrorFields(w http.ResponseWriter, r *http.Request, code int, msg, backendCode string, fields []knmt.FieldError) {
	if strings.TrimSpace(msg) == "" {
		msg = http.StatusText(code)
	}
	payload := map[string]any{
		"error":  msg,
		"fields": fields,
	}
	if backendCode != "" {
		payload["code"] = backendCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
