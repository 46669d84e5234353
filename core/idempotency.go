package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InboundEventID derives the event id for a provider delivery. Redeliveries
// of the same provider event collapse onto the same id.
func InboundEventID(provider string, providerEventID string) string {
	sum := sha256.Sum256([]byte(
		"inbound|" + strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.TrimSpace(providerEventID),
	))
	return hex.EncodeToString(sum[:])
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a lexically sortable id for an internally raised event.
func NewEventID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
