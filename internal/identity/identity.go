package identity

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var errMalformedID = errors.New("malformed identity")

// Generator produces composite keys of the form {unixMillis}_{32 hex chars}.
// Uniqueness comes from the random suffix; keys are never checked against a store.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a generator using the given clock. A nil clock means time.Now.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// NewID returns a fresh identity
func (g *Generator) NewID() string {
	u := uuid.New()
	return strconv.FormatInt(g.now().UnixMilli(), 10) + "_" + hex.EncodeToString(u[:])
}

var defaultGenerator = NewGenerator(nil)

// NewID returns a fresh identity from the wall clock
func NewID() string {
	return defaultGenerator.NewID()
}

// Timestamp extracts the creation time encoded in an identity.
func Timestamp(id string) (time.Time, error) {
	millis, suffix, ok := strings.Cut(id, "_")
	if !ok || len(suffix) != 32 {
		return time.Time{}, errors.Wrapf(errMalformedID, "id %q", id)
	}
	if _, err := hex.DecodeString(suffix); err != nil || strings.ToLower(suffix) != suffix {
		return time.Time{}, errors.Wrapf(errMalformedID, "id %q", id)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(errMalformedID, "id %q", id)
	}
	return time.UnixMilli(ms), nil
}
