// Package testutil provides shared helpers for tests of the debug HTTP
// surface and the on-disk stores.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

// LoopbackRemoteAddr is a client address the tsweb debugger lets through.
const LoopbackRemoteAddr = "127.0.0.1:40000"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewDebugRequest creates a request that appears to come from loopback, so
// debugger access checks pass.
func NewDebugRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = LoopbackRemoteAddr
	return req
}

// ServeDebug sends a loopback request for path through h and returns the
// recorded response.
func ServeDebug(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, NewDebugRequest(method, path))
	return w
}

// TempDBPath returns a database path inside a per-test temporary directory.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sessions.db")
}
