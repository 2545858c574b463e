package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors_WrappedIdentity(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidFilter", ErrInvalidFilter},
		{"ErrReplaceSelf", ErrReplaceSelf},
	}

	for _, s := range sentinels {
		t.Run(s.name, func(t *testing.T) {
			if s.err.Error() == "" {
				t.Fatal("Sentinel error should have a message")
			}
			wrapped := fmt.Errorf("context: %w", s.err)
			if !errors.Is(wrapped, s.err) {
				t.Errorf("errors.Is failed for wrapped %s", s.name)
			}
		})
	}
}

func TestSentinelErrors_Distinct(t *testing.T) {
	if errors.Is(ErrNotFound, ErrInvalidFilter) {
		t.Error("ErrNotFound should not match ErrInvalidFilter")
	}
	if errors.Is(ErrReplaceSelf, ErrNotFound) {
		t.Error("ErrReplaceSelf should not match ErrNotFound")
	}
}
