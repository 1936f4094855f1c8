package idempotency

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate returns a fresh key for one logical payment attempt.
//
// The key is "<unix millis>-<random>". Callers generate it once when the pay
// action is offered to the user and send the same key on every retry of that
// action; the backend deduplicates on it.
func Generate() string {
	return generateAt(time.Now())
}

func generateAt(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", t.UnixMilli(), suffix[:16])
}

// Valid reports whether key looks like something Generate produced.
func Valid(key string) bool {
	ts, suffix, ok := strings.Cut(key, "-")
	if !ok || ts == "" || len(suffix) != 16 {
		return false
	}
	for _, c := range ts {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range suffix {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
