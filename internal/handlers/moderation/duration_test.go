package handlers

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	errs "github.com/wardenbot/warden/internal/errors"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	valid := []struct {
		token string
		want  time.Time
	}{
		{"5m", now.Add(5 * time.Minute)},
		{"99m", now.Add(99 * time.Minute)},
		{"1h", now.Add(time.Hour)},
		{"12h", now.Add(12 * time.Hour)},
		{"3d", now.Add(72 * time.Hour)},
	}
	for _, tc := range valid {
		got, err := ParseDuration(tc.token, now)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tc.token, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseDuration(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}

	invalid := []string{"", "m", "5", "100m", "123d", "5x", "x5", "-5m", "5 m"}
	for _, token := range invalid {
		if _, err := ParseDuration(token, now); !errors.Is(err, errs.ErrInvalidDuration) {
			t.Fatalf("ParseDuration(%q) err = %v, want ErrInvalidDuration", token, err)
		}
	}
}
