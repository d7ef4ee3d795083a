package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrDatasetNotFound, http.StatusNotFound, "no such dataset"), http.StatusNotFound},
		{fmt.Errorf("resolving dataset: %w", ErrDatasetNotFound), http.StatusNotFound},
		{ErrJobNotFound, http.StatusNotFound},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrPublishUnavailable, http.StatusServiceUnavailable},
		{ErrTimeout, http.StatusServiceUnavailable},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusCode(tt.err); got != tt.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrDatasetNotFound, http.StatusNotFound, "dataset not found: %s", "d-1")
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Error("AppError must unwrap to its sentinel")
	}
	if err.Error() == "" {
		t.Error("empty error string")
	}
}

// TestIsPermanent verifies the marker survives fmt.Errorf wrapping, since
// handlers add context before the policy inspects the error.
func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("transient")) {
		t.Error("plain error reported permanent")
	}
	if !IsPermanent(Permanentf("unsupported extension: %s", "parquet")) {
		t.Error("Permanentf not reported permanent")
	}
	wrapped := fmt.Errorf("running pipeline: %w", Permanent(errors.New("bad shape")))
	if !IsPermanent(wrapped) {
		t.Error("wrapped permanent error not detected")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
