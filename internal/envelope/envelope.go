// Package envelope extracts entity records from the several wrappers the
// MCP gateway and SAP put around them.
//
// Recognised shapes, tried in order (first match wins):
//
//	{"content":[{"text":"<json>"}]}   tool-call wrapper, unwrapped and re-normalized
//	{"d":{"results":[...]}}          OData v2
//	{"value":[...]}                  OData v4
//	[...]                            bare array
//	{"data":[...]}                   gateway data envelope
//
// Anything else normalizes to an empty, non-nil record list. A business
// error ({"data":{"error":...}} or {"error":...}) found at any unwrap level
// is returned as *BackendError.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"porky.com/knmt/internal/obs"
)

// Shape names the envelope that produced the records.
type Shape string

const (
	ShapeEmpty    Shape = "empty"
	ShapeODataV2  Shape = "odata_v2"
	ShapeODataV4  Shape = "odata_v4"
	ShapeArray    Shape = "array"
	ShapeData     Shape = "data"
	shapeToolCall Shape = "tool_call"
)

// maxDepth bounds nested tool-call unwrapping.
const maxDepth = 8

// Result is the outcome of a successful normalization.
type Result struct {
	Shape Shape
	// Depth counts tool-call wrappers removed before Shape matched.
	Depth   int
	Records []json.RawMessage
}

// Len returns the number of records.
func (r Result) Len() int { return len(r.Records) }

// step is what a probe produces: either records or a nested document.
type step struct {
	records []json.RawMessage
	nested  json.RawMessage
}

type probe struct {
	shape Shape
	try   func(doc document) (step, bool, error)
}

// document is a parsed JSON value; obj is set only for objects.
type document struct {
	raw json.RawMessage
	obj map[string]json.RawMessage
}

var probes = []probe{
	{shape: shapeToolCall, try: probeToolCall},
	{shape: ShapeODataV2, try: probeODataV2},
	{shape: ShapeODataV4, try: probeField("value")},
	{shape: ShapeArray, try: probeArray},
	{shape: ShapeData, try: probeField("data")},
}

// Normalize parses body and returns its records. Malformed JSON at any level
// yields ErrMalformedEnvelope.
func Normalize(body []byte) (Result, error) {
	return normalize(json.RawMessage(body), 0)
}

// NormalizeLenient is Normalize for read paths: a malformed envelope is
// logged and treated as an empty result. Business errors are still returned.
func NormalizeLenient(body []byte) (Result, error) {
	res, err := Normalize(body)
	if err != nil {
		if _, ok := AsBackendError(err); ok {
			return Result{}, err
		}
		obs.Logger().Warn("envelope_malformed", zap.Error(err), zap.Int("bytes", len(body)))
		return empty(0), nil
	}
	return res, nil
}

// Decode unmarshals every record of res into T.
func Decode[T any](res Result) ([]T, error) {
	var first error
	out := DecodeEach[T](res, func(i int, err error) {
		if first == nil {
			first = fmt.Errorf("%w: record %d: %v", ErrMalformedEnvelope, i, err)
		}
	})
	if first != nil {
		return nil, first
	}
	return out, nil
}

// DecodeEach is Decode for read paths: records that do not fit T are
// passed to skip with their index and left out of the result.
func DecodeEach[T any](res Result, skip func(i int, err error)) []T {
	out := make([]T, 0, len(res.Records))
	for i, raw := range res.Records {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			if skip != nil {
				skip(i, err)
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

func normalize(raw json.RawMessage, depth int) (Result, error) {
	if depth > maxDepth {
		return Result{}, fmt.Errorf("%w: wrapper nesting exceeds %d", ErrMalformedEnvelope, maxDepth)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return empty(depth), nil
	}
	if !json.Valid(raw) {
		return Result{}, fmt.Errorf("%w: invalid JSON at depth %d", ErrMalformedEnvelope, depth)
	}

	doc := document{raw: raw}
	if raw[0] == '{' {
		if err := json.Unmarshal(raw, &doc.obj); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if be := businessError(doc.obj); be != nil {
			return Result{}, be
		}
	}

	for _, p := range probes {
		st, ok, err := p.try(doc)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		if st.nested != nil {
			return normalize(st.nested, depth+1)
		}
		return Result{Shape: p.shape, Depth: depth, Records: st.records}, nil
	}
	return empty(depth), nil
}

func empty(depth int) Result {
	return Result{Shape: ShapeEmpty, Depth: depth, Records: []json.RawMessage{}}
}

func probeToolCall(doc document) (step, bool, error) {
	content, ok := doc.obj["content"]
	if !ok {
		return step{}, false, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(content, &items); err != nil || len(items) == 0 {
		return step{}, false, nil
	}
	var text string
	if err := json.Unmarshal(items[0]["text"], &text); err != nil {
		return step{}, false, nil
	}
	if !json.Valid([]byte(text)) {
		return step{}, false, fmt.Errorf("%w: tool-call text is not JSON", ErrMalformedEnvelope)
	}
	return step{nested: json.RawMessage(text)}, true, nil
}

func probeODataV2(doc document) (step, bool, error) {
	d, ok := doc.obj["d"]
	if !ok {
		return step{}, false, nil
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(d, &inner); err != nil {
		return step{}, false, nil
	}
	return arrayStep(inner["results"])
}

func probeField(name string) func(document) (step, bool, error) {
	return func(doc document) (step, bool, error) {
		v, ok := doc.obj[name]
		if !ok {
			return step{}, false, nil
		}
		return arrayStep(v)
	}
}

func probeArray(doc document) (step, bool, error) {
	if doc.raw[0] != '[' {
		return step{}, false, nil
	}
	return arrayStep(doc.raw)
}

func arrayStep(raw json.RawMessage) (step, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return step{}, false, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return step{}, false, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return step{records: records}, true, nil
}

// odataError covers both the v2 form (message.value) and the v4 form
// (message as a plain string).
type odataError struct {
	Code       string          `json:"code"`
	Message    json.RawMessage `json:"message"`
	InnerError struct {
		ErrorDetails []ErrorDetail `json:"errordetails"`
	} `json:"innererror"`
	Details []ErrorDetail `json:"details"`
}

func businessError(obj map[string]json.RawMessage) *BackendError {
	if data, ok := obj["data"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(data, &inner); err == nil {
			if be := parseError(inner["error"]); be != nil {
				return be
			}
		}
	}
	return parseError(obj["error"])
}

func parseError(raw json.RawMessage) *BackendError {
	if len(raw) == 0 {
		return nil
	}
	var e odataError
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}
	msg, ok := errorMessage(e.Message)
	if !ok {
		return nil
	}
	details := e.InnerError.ErrorDetails
	if len(details) == 0 {
		details = e.Details
	}
	return &BackendError{Code: e.Code, Message: msg, Details: details}
}

func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var withValue struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(raw, &withValue); err == nil && withValue.Value != nil {
		return *withValue.Value, true
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain, true
	}
	return "", false
}
