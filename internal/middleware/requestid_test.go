package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveWithRequestID runs a request carrying incoming (if non-empty) through
// RequestID and returns the ID seen by the handler and the response.
func serveWithRequestID(t *testing.T, incoming string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/changes", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return seen, rec
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "missing header gets a uuid", incoming: ""},
		{name: "client id is reused", incoming: "deploy-42_canary", keep: true},
		{name: "uuid is reused", incoming: "6f1c2a9e-3b0d-4c1e-9a57-0e4b1f2d3c4a", keep: true},
		{name: "128 chars is the limit", incoming: strings.Repeat("x", 128), keep: true},
		{name: "129 chars is replaced", incoming: strings.Repeat("x", 129)},
		{name: "newline is replaced", incoming: "abc\nlevel=ERROR msg=forged"},
		{name: "colon is replaced", incoming: "change:123"},
		{name: "dot is replaced", incoming: "v1.2.3"},
		{name: "non-ascii is replaced", incoming: "änderung-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, rec := serveWithRequestID(t, tt.incoming)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			assert.NotEqual(t, tt.incoming, seen)
			_, err := uuid.Parse(seen)
			assert.NoError(t, err, "replacement id should be a uuid")
		})
	}
}

func TestRequestID_FreshPerRequest(t *testing.T) {
	first, _ := serveWithRequestID(t, "")
	second, _ := serveWithRequestID(t, "")
	assert.NotEqual(t, first, second)
}

func TestRequestIDFromContext_Unset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
