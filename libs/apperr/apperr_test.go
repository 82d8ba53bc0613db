package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := map[error]int{
		Validation("bad"):           http.StatusBadRequest,
		NotFound("missing"):         http.StatusNotFound,
		Conflict("taken"):           http.StatusConflict,
		Forbidden("nope"):           http.StatusForbidden,
		Unauthorized("who"):         http.StatusUnauthorized,
		Internal("boom", nil):       http.StatusInternalServerError,
		errors.New("plain failure"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestWithStatusOverridesKindDefault(t *testing.T) {
	err := Conflict("This appointment slot is already taken.").WithStatus(http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("book: %w", err)))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := NotFound("Appointment not found.")
	wrapped := fmt.Errorf("cancel: %w", NotFound("Appointment not found."))
	require.ErrorIs(t, wrapped, sentinel)
	assert.False(t, errors.Is(wrapped, NotFound("Doctor not found.")))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("failed to load appointment", cause)
	assert.Equal(t, "failed to load appointment", PublicMessage(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", PublicMessage(cause))
}
