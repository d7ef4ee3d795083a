package metadata

import (
	"strings"
	"testing"
)

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	if got := TruncateError(short); got != short {
		t.Errorf("short message altered: %q", got)
	}

	long := strings.Repeat("x", MaxLastErrorLen+500)
	got := TruncateError(long)
	if len(got) != MaxLastErrorLen {
		t.Errorf("truncated length = %d, want %d", len(got), MaxLastErrorLen)
	}
}
