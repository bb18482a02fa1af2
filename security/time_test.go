package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{
			name:      "zero expiry never expires",
			expiresAt: time.Time{},
			grace:     DefaultClockSkewGracePeriod,
			want:      false,
		},
		{
			name:      "future expiry",
			expiresAt: time.Now().Add(time.Hour),
			grace:     DefaultClockSkewGracePeriod,
			want:      false,
		},
		{
			name:      "long past expiry",
			expiresAt: time.Now().Add(-time.Hour),
			grace:     DefaultClockSkewGracePeriod,
			want:      true,
		},
		{
			name:      "just past expiry within grace",
			expiresAt: time.Now().Add(-time.Second),
			grace:     DefaultClockSkewGracePeriod,
			want:      false,
		},
		{
			name:      "just past expiry without grace",
			expiresAt: time.Now().Add(-time.Second),
			grace:     0,
			want:      true,
		},
		{
			name:      "negative grace treated as zero",
			expiresAt: time.Now().Add(time.Minute),
			grace:     -time.Hour,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
