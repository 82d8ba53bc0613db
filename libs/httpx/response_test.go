package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/book-appointment/", nil)

	rw := httptest.NewRecorder()
	WriteError(rw, req, logger, apperr.Conflict("This appointment slot is already taken.").WithStatus(http.StatusBadRequest))
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.JSONEq(t, `{"error":"This appointment slot is already taken."}`, rw.Body.String())

	rw = httptest.NewRecorder()
	WriteError(rw, req, logger, errors.New("pg: connection reset"))
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rw.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		DoctorID int `json:"doctor_id"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"doctor_id":3}`))
	require.NoError(t, DecodeJSON(req, &body))
	assert.Equal(t, 3, body.DoctorID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"doctor_id":`))
	err := DecodeJSON(req, &body)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.NoError(t, DecodeJSON(req, &body))
}

func TestAllowMethods(t *testing.T) {
	rw := httptest.NewRecorder()
	ok := AllowMethods(rw, httptest.NewRequest(http.MethodDelete, "/", nil), http.MethodGet, http.MethodPut)
	assert.False(t, ok)
	assert.Equal(t, http.StatusMethodNotAllowed, rw.Code)
}
