package tokens

import (
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	token, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// 32 random bytes encode to 43 characters of unpadded base64url
	if len(token) != 43 {
		t.Errorf("Generate() length = %d, want 43", len(token))
	}

	const urlSafe = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	for _, ch := range token {
		if !strings.ContainsRune(urlSafe, ch) {
			t.Errorf("Generate() produced non-URL-safe character %q in %q", ch, token)
		}
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	n := 100000
	if testing.Short() {
		n = 10000
	}

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		token, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v at iteration %d", err, i)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("Generate() produced duplicate token after %d generations", i)
		}
		seen[token] = struct{}{}
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ttl  time.Duration
		want time.Time
	}{
		{name: "positive ttl", ttl: 5 * time.Minute, want: now.Add(5 * time.Minute)},
		{name: "zero ttl means no expiry", ttl: 0, want: time.Time{}},
		{name: "negative ttl means no expiry", ttl: -time.Hour, want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expiry(now, tt.ttl); !got.Equal(tt.want) {
				t.Errorf("Expiry() = %v, want %v", got, tt.want)
			}
		})
	}
}
