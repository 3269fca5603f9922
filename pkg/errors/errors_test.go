package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInvalidInput, http.StatusTeapot, "odd"), http.StatusTeapot},
		{"wrapped not found", fmt.Errorf("lookup: %w", ErrTermNotFound), http.StatusNotFound},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"too large", ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"not ready", fmt.Errorf("resolve: %w", ErrIndexNotReady), http.StatusServiceUnavailable},
		{"source down", ErrSourceUnavailable, http.StatusServiceUnavailable},
		{"conflict", fmt.Errorf("rename: %w", ErrConflict), http.StatusConflict},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrDocumentNotFound, http.StatusNotFound, "path %s", "People/Ann.md")
	if err.Error() != "document not found: path People/Ann.md" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Unwrap() != ErrDocumentNotFound {
		t.Error("Unwrap did not return the sentinel")
	}
}
