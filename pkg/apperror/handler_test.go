package apperror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, method string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	inner, ok := body["error"].(map[string]any)
	require.True(t, ok, "response should have an error object")
	return inner
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(t, http.MethodGet)

	handler(ErrCourseNotFound, c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	errObj := decodeErrorBody(t, rec)
	assert.Equal(t, "course_not_found", errObj["code"])
	assert.Equal(t, "Course not found", errObj["message"])
}

func TestHTTPErrorHandler_AppErrorWithDetails(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(t, http.MethodPost)

	err := ErrValidation.WithDetails(map[string]any{"field": "title"})
	handler(err, c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errObj := decodeErrorBody(t, rec)
	assert.Equal(t, "validation_error", errObj["code"])
	details, ok := errObj["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "title", details["field"])
}

func TestHTTPErrorHandler_EchoHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, "unauthorized"},
		{"forbidden", http.StatusForbidden, "forbidden"},
		{"not found", http.StatusNotFound, "not_found"},
		{"bad request", http.StatusBadRequest, "bad_request"},
		{"conflict", http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPErrorHandler(slog.Default())
			c, rec := newTestContext(t, http.MethodGet)

			handler(echo.NewHTTPError(tt.status, "boom"), c)

			assert.Equal(t, tt.status, rec.Code)
			errObj := decodeErrorBody(t, rec)
			assert.Equal(t, tt.wantCode, errObj["code"])
			assert.Equal(t, "boom", errObj["message"])
		})
	}
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(t, http.MethodGet)

	handler(errors.New("something unexpected"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	errObj := decodeErrorBody(t, rec)
	assert.Equal(t, "internal_error", errObj["code"])
	// Internal details must not leak to clients
	assert.Equal(t, "An internal error occurred", errObj["message"])
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(t, http.MethodHead)

	handler(ErrNotFound, c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	handler := HTTPErrorHandler(slog.Default())
	c, rec := newTestContext(t, http.MethodGet)

	require.NoError(t, c.NoContent(http.StatusOK))
	handler(ErrInternal, c)

	assert.Equal(t, http.StatusOK, rec.Code)
}
