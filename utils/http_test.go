package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("encodes data with status", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusCreated, map[string]string{"key": "value"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"key":"value"}`, w.Body.String())
	})

	t.Run("nil data writes no body", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusOK, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"id": "abc"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"id":"abc"}}`, w.Body.String())
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name        string
		write       func(w http.ResponseWriter) error
		wantStatus  int
		wantError   string
		wantMessage string
	}{
		{
			name:        "unauthorized default is the uniform auth message",
			write:       func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			wantStatus:  http.StatusUnauthorized,
			wantError:   "unauthorized",
			wantMessage: "Unauthenticated",
		},
		{
			name:        "unauthorized with message",
			write:       func(w http.ResponseWriter) error { return WriteUnauthorized(w, "Token exchange failed") },
			wantStatus:  http.StatusUnauthorized,
			wantError:   "unauthorized",
			wantMessage: "Token exchange failed",
		},
		{
			name:        "forbidden default",
			write:       func(w http.ResponseWriter) error { return WriteForbidden(w, "") },
			wantStatus:  http.StatusForbidden,
			wantError:   "forbidden",
			wantMessage: "Insufficient permissions",
		},
		{
			name:        "not found",
			write:       func(w http.ResponseWriter) error { return WriteNotFound(w, "Unknown social provider") },
			wantStatus:  http.StatusNotFound,
			wantError:   "not_found",
			wantMessage: "Unknown social provider",
		},
		{
			name:        "bad request",
			write:       func(w http.ResponseWriter) error { return WriteBadRequest(w, "Invalid state", nil) },
			wantStatus:  http.StatusBadRequest,
			wantError:   "bad_request",
			wantMessage: "Invalid state",
		},
		{
			name:        "internal error default",
			write:       func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			wantStatus:  http.StatusInternalServerError,
			wantError:   "internal_error",
			wantMessage: "Internal server error",
		},
		{
			name:        "conflict through WriteError",
			write:       func(w http.ResponseWriter) error { return WriteError(w, http.StatusConflict, "", nil) },
			wantStatus:  http.StatusConflict,
			wantError:   "conflict",
			wantMessage: "Conflict",
		},
		{
			name:        "unknown status keeps status with internal code",
			write:       func(w http.ResponseWriter) error { return WriteError(w, http.StatusBadGateway, "upstream", nil) },
			wantStatus:  http.StatusBadGateway,
			wantError:   "internal_error",
			wantMessage: "upstream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			response := decodeError(t, w)
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantMessage, response.Message)
			assert.Nil(t, response.Details)
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteError(w, http.StatusConflict, "duplicate user", map[string]any{"external_id": "abc"})
	require.NoError(t, err)

	response := decodeError(t, w)
	assert.Equal(t, "conflict", response.Error)
	assert.Equal(t, "abc", response.Details["external_id"])
}
