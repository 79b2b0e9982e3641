// Package knmt models customer-material cross-reference requests (SAP table
// KNMT) and the rules applied to them before and after a backend call.
package knmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultVtweg is the distribution channel assumed when a record has none.
const DefaultVtweg = "01"

// Record is one cross-reference request. JSON names follow the backend.
type Record struct {
	Kunnr           string `json:"kunnr"`
	Vkorg           string `json:"vkorg"`
	Vtweg           string `json:"vtweg"`
	Kdmat           string `json:"kdmat"`
	Postx           string `json:"postx"`
	Zzean11         string `json:"zzean11"`
	Zzpack          string `json:"zzpack"`
	Zzuom           string `json:"zzuom"`
	ZzpackWhse      string `json:"zzpack_whse"`
	Zzsize          string `json:"zzsize"`
	Zzloc           string `json:"zzloc"`
	Zzdepartment    string `json:"zzdepartment"`
	Zzmaterialusage string `json:"zzmaterialusage"`
	Zzbdrsub        string `json:"zzbdrsub"`
	Status          Status `json:"status"`
	StatusText      string `json:"statusText,omitempty"`
	Trtyp           string `json:"trtyp,omitempty"`
	Ernam           string `json:"ernam,omitempty"`
	Erdat           string `json:"erdat,omitempty"`
	Aenam           string `json:"aenam,omitempty"`
	Aedat           string `json:"aedat,omitempty"`
}

// field describes one record attribute for filtering, validation and export.
type field struct {
	name  string
	label string
	get   func(*Record) *string
}

var fields = []field{
	{"kunnr", "Customer", func(r *Record) *string { return &r.Kunnr }},
	{"vkorg", "Sales Org", func(r *Record) *string { return &r.Vkorg }},
	{"vtweg", "Distr. Channel", func(r *Record) *string { return &r.Vtweg }},
	{"kdmat", "Customer Material", func(r *Record) *string { return &r.Kdmat }},
	{"postx", "Description", func(r *Record) *string { return &r.Postx }},
	{"zzean11", "EAN/UPC", func(r *Record) *string { return &r.Zzean11 }},
	{"zzpack", "Pack", func(r *Record) *string { return &r.Zzpack }},
	{"zzuom", "UoM", func(r *Record) *string { return &r.Zzuom }},
	{"zzpack_whse", "Warehouse Pack", func(r *Record) *string { return &r.ZzpackWhse }},
	{"zzsize", "Size", func(r *Record) *string { return &r.Zzsize }},
	{"zzloc", "Location", func(r *Record) *string { return &r.Zzloc }},
	{"zzdepartment", "Department", func(r *Record) *string { return &r.Zzdepartment }},
	{"zzmaterialusage", "Usage", func(r *Record) *string { return &r.Zzmaterialusage }},
	{"zzbdrsub", "Substitute", func(r *Record) *string { return &r.Zzbdrsub }},
	{"status", "Status", func(r *Record) *string { return (*string)(&r.Status) }},
	{"statusText", "Status Text", func(r *Record) *string { return &r.StatusText }},
	{"trtyp", "Transaction", func(r *Record) *string { return &r.Trtyp }},
	{"ernam", "Created By", func(r *Record) *string { return &r.Ernam }},
	{"erdat", "Created On", func(r *Record) *string { return &r.Erdat }},
	{"aenam", "Changed By", func(r *Record) *string { return &r.Aenam }},
	{"aedat", "Changed On", func(r *Record) *string { return &r.Aedat }},
}

func lookupField(name string) (field, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.name, name) {
			return f, true
		}
	}
	return field{}, false
}

// Value returns the named attribute; ok is false for unknown names.
func (r Record) Value(name string) (string, bool) {
	f, ok := lookupField(name)
	if !ok {
		return "", false
	}
	return *f.get(&r), true
}

// UnmarshalJSON accepts numbers, booleans and nulls where the backend is
// inconsistent about types (pack sizes arrive both as "12" and 12).
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("knmt: record is not an object")
	}
	*r = Record{}
	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
		case string:
			*f.get(r) = t
		case json.Number:
			*f.get(r) = t.String()
		case bool:
			*f.get(r) = fmt.Sprint(t)
		default:
			return fmt.Errorf("knmt: field %s: unexpected %T", f.name, v)
		}
	}
	return nil
}

// Key identifies a record.
type Key struct {
	Kunnr string `json:"kunnr"`
	Vkorg string `json:"vkorg"`
	Vtweg string `json:"vtweg"`
	Kdmat string `json:"kdmat"`
}

// Key returns the record key with the default distribution channel applied.
func (r Record) Key() Key {
	return Key{Kunnr: r.Kunnr, Vkorg: r.Vkorg, Vtweg: r.Vtweg, Kdmat: r.Kdmat}.Normalize()
}

// Normalize trims the key parts and applies DefaultVtweg.
func (k Key) Normalize() Key {
	k.Kunnr = strings.TrimSpace(k.Kunnr)
	k.Vkorg = strings.TrimSpace(k.Vkorg)
	k.Vtweg = strings.TrimSpace(k.Vtweg)
	k.Kdmat = strings.TrimSpace(k.Kdmat)
	if k.Vtweg == "" {
		k.Vtweg = DefaultVtweg
	}
	return k
}

// Complete reports whether every mandatory key part is present.
func (k Key) Complete() bool {
	k = k.Normalize()
	return k.Kunnr != "" && k.Vkorg != "" && k.Kdmat != ""
}

// EntityKey renders the OData entity key, e.g.
// kunnr='1',vkorg='1000',vtweg='01',kdmat='ABC'.
func (k Key) EntityKey() string {
	k = k.Normalize()
	return fmt.Sprintf("kunnr=%s,vkorg=%s,vtweg=%s,kdmat=%s",
		quote(k.Kunnr), quote(k.Vkorg), quote(k.Vtweg), quote(k.Kdmat))
}

func (k Key) String() string { return k.EntityKey() }

// quote renders an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
