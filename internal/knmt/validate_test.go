package knmt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porky.com/knmt/internal/envelope"
)

func TestValidateAcceptsPreparedRecord(t *testing.T) {
	r := PrepareCreate(Record{Kunnr: "1234", Vkorg: "1000", Kdmat: "MAT-1", Zzean11: "0123456789012", Zzpack: "12"})
	assert.NoError(t, Validate(r))
}

func TestValidateReportsFields(t *testing.T) {
	r := PrepareCreate(Record{Kunnr: "", Vkorg: "10000", Kdmat: "M", Zzean11: "12AB", Zzpack: "six"})
	err := Validate(r)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	got := map[string]string{}
	for _, f := range ve.Fields {
		got[f.Field] = f.Message
	}
	assert.Equal(t, "is required", got["kunnr"])
	assert.Contains(t, got, "vkorg")
	assert.Contains(t, got, "zzean11")
	assert.Contains(t, got, "zzpack")
	assert.NotContains(t, got, "kdmat")
	assert.Equal(t, "kunnr", ve.Fields[0].Field, "fields are reported in form order")
}

func TestValidateRejectsUnknownStatus(t *testing.T) {
	r := PrepareCreate(Record{Kunnr: "1", Vkorg: "1", Kdmat: "1", Status: "Q"})
	var ve *ValidationError
	require.ErrorAs(t, Validate(r), &ve)
	assert.Equal(t, "status", ve.Fields[0].Field)
}

func TestMapFieldErrors(t *testing.T) {
	be := &envelope.BackendError{
		Code:    "ZKNMT/001",
		Message: "Input invalid",
		Details: []envelope.ErrorDetail{
			{Message: "EAN is not valid", Target: "ZCSD_ZKNMTRequest/zzean11"},
			{Message: "Pack must be positive", Target: "zzpack"},
			{Message: "Something else", Target: "/header"},
		},
	}
	got := MapFieldErrors(be)
	require.Len(t, got, 3)
	assert.Equal(t, FieldError{Field: "zzean11", Message: "EAN is not valid"}, got[0])
	assert.Equal(t, "zzpack", got[1].Field)
	assert.Equal(t, "", got[2].Field)

	got = MapFieldErrors(&envelope.BackendError{Message: "Locked by user X"})
	assert.Equal(t, []FieldError{{Message: "Locked by user X"}}, got)
	assert.Nil(t, MapFieldErrors(nil))
}
