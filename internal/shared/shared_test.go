package shared

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func TestJoinArtists(t *testing.T) {
	tc := []struct {
		name  string
		names []string
		want  string
	}{
		{name: "single", names: []string{"Artist"}, want: "Artist"},
		{name: "multiple", names: []string{"A", "B", "C"}, want: "A, B, C"},
		{name: "blank entries dropped", names: []string{" A ", "", "  "}, want: "A"},
		{name: "empty", names: nil, want: ""},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinArtists(tt.names); got != tt.want {
				t.Errorf("JoinArtists() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tc := []struct {
		ms   int
		want string
	}{
		{ms: 0, want: "0:00"},
		{ms: 61_000, want: "1:01"},
		{ms: 3_723_000, want: "1:02:03"},
		{ms: -5, want: "0:00"},
	}

	for _, tt := range tc {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.ms); got != tt.want {
				t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestRemoteError(t *testing.T) {
	t.Run("retryable by status", func(t *testing.T) {
		tc := []struct {
			code      int
			retryable bool
		}{
			{http.StatusTooManyRequests, true},
			{http.StatusBadGateway, true},
			{http.StatusForbidden, false},
			{http.StatusNotFound, false},
		}
		for _, tt := range tc {
			err := NewRemoteError(tt.code, nil)
			if err.Retryable != tt.retryable {
				t.Errorf("status %d: expected retryable=%v", tt.code, tt.retryable)
			}
			if IsRetryable(fmt.Errorf("wrapped: %w", err)) != tt.retryable {
				t.Errorf("status %d: IsRetryable should see through wrapping", tt.code)
			}
		}
	})

	t.Run("unwraps to cause", func(t *testing.T) {
		err := fmt.Errorf("%w: %w", ErrRemoteRejected, NewRemoteError(401, ErrTokenExpired))
		if !errors.Is(err, ErrTokenExpired) {
			t.Error("expected ErrTokenExpired in chain")
		}
		if !errors.Is(err, ErrRemoteRejected) {
			t.Error("expected ErrRemoteRejected in chain")
		}

		var re *RemoteError
		if !errors.As(err, &re) || re.Code != 401 {
			t.Errorf("expected RemoteError with code 401, got %v", re)
		}
	})

	t.Run("message", func(t *testing.T) {
		if got := NewRemoteError(500, nil).Error(); !strings.Contains(got, "500") {
			t.Errorf("expected status in message, got %q", got)
		}
	})
}

func TestLoggers(t *testing.T) {
	t.Run("NewLogger writes to writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "component", "test")
		logger.Info("hello")
		if !strings.Contains(buf.String(), "component=test") {
			t.Errorf("expected child fields in output, got %q", buf.String())
		}
	})

	t.Run("NewFileLogger creates directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "watch.log")
		if _, err := NewFileLogger(path); err != nil {
			t.Fatalf("failed to create file logger: %v", err)
		}
	})

	t.Run("GenerateID is unique", func(t *testing.T) {
		if GenerateID() == GenerateID() {
			t.Error("expected unique ids")
		}
	})
}
