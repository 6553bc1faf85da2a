package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docbatch/internal/api"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/services"
)

func TestWriteServiceErrorStatusCodes(t *testing.T) {
	srv := &apiServer{logger: logging.NewNop()}
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{services.Wrap(services.ErrValidation, "api", "submit", "bad", nil), http.StatusBadRequest, "validation"},
		{jobstore.ErrNotFound, http.StatusNotFound, "not_found"},
		{jobstore.InvalidTransition("j1", jobstore.StatusCompleted, jobstore.StatusRunning), http.StatusConflict, "invalid_transition"},
		{services.Wrap(services.ErrSystemic, "workflow", "submit", "not running", nil), http.StatusServiceUnavailable, "systemic"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		srv.writeServiceError(w, tc.err)
		if w.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, w.Code, tc.status)
		}
		var body api.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if tc.kind != "" && body.Kind != tc.kind {
			t.Fatalf("%v: kind = %q, want %q", tc.err, body.Kind, tc.kind)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := authMiddleware("tok", next)

	for _, tc := range []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Basic tok", http.StatusUnauthorized},
		{"Bearer tok", http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("header %q: status = %d, want %d", tc.header, w.Code, tc.status)
		}
	}

	if authMiddleware("", next) == nil {
		t.Fatal("empty token should pass through")
	}
}
