package registry

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{NewMissingFieldsError([]string{"name"}), http.StatusBadRequest},
		{NewVerificationError(Result{Reason: ReasonTimeout}), http.StatusBadRequest},
		{NewConflictError("https://a.example", nil), http.StatusConflict},
		{NewNotFoundError("https://a.example"), http.StatusNotFound},
		{&Error{Kind: KindUnavailable}, http.StatusServiceUnavailable},
		{NewInternalError("boom", nil), http.StatusInternalServerError},
		{&Error{Kind: "mystery"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestAsErrorThroughWrapping(t *testing.T) {
	inner := errors.New("duplicate key")
	wrapped := fmt.Errorf("insert: %w", NewConflictError("https://a.example", inner))

	e := AsError(wrapped)
	if assert.NotNil(t, e) {
		assert.Equal(t, KindConflict, e.Kind)
	}
	assert.True(t, IsKind(wrapped, KindConflict))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.ErrorIs(t, wrapped, inner)
	assert.Nil(t, AsError(inner))
}

func TestErrorMessage(t *testing.T) {
	err := NewMissingFieldsError([]string{"name", "region"})
	assert.Equal(t, "validation: missing required fields [name, region]", err.Error())

	verr := NewVerificationError(Result{Reason: ReasonUnreachable, StatusCode: 503})
	assert.Contains(t, verr.Error(), "reason=unreachable")
}
