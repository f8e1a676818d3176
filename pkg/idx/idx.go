// Package idx generates ULID-backed correlation identifiers for outbound
// requests and realtime connections.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero represents the zero value ID.
const Zero ID = ""

// Well-known prefixes. An ID is rendered as "<prefix>_<ulid>".
const (
	PrefixRequest = "req"
	PrefixConn    = "conn"
)

// ErrInvalid reports a malformed identifier.
var ErrInvalid = errors.New("idx: invalid id")

var (
	mu      sync.Mutex
	once    sync.Once
	entropy *ulid.MonotonicEntropy
)

// New returns a prefixed, lexicographically sortable identifier for the
// current time. An empty prefix yields a bare ULID.
func New(prefix string) ID {
	return NewAt(prefix, time.Now().UTC())
}

// NewAt is like New but stamps the identifier with t.
func NewAt(prefix string, t time.Time) ID {
	once.Do(func() {
		entropy = ulid.Monotonic(rand.Reader, 0)
	})

	mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(t), entropy)
	mu.Unlock()

	if prefix == "" {
		return ID(u.String())
	}
	return ID(prefix + "_" + u.String())
}

// Parse validates s and returns it as an ID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if _, err := ulid.ParseStrict(ulidPart(s)); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Prefix returns the kind prefix, or "" for a bare ULID.
func (id ID) Prefix() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Time extracts the embedded UTC timestamp. Invalid IDs yield the zero time.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(ulidPart(string(id)))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}

func ulidPart(s string) string {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[i+1:]
	}
	return s
}
