// Package identifier mints public certificate identifiers of the form
// PREFIX-<unix millis>-<10 base32 chars>. The suffix carries 50 bits from
// crypto/rand, so identifiers cannot be enumerated from one another.
package identifier

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Crockford base32: no I, L, O, U.
const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	suffixLen     = 10 // 10 * 5 bits = 50 bits
	DefaultPrefix = "AMITY"
)

var prefixRe = regexp.MustCompile(`^[A-Z0-9]{2,16}$`)

// Generator is safe for concurrent use.
type Generator struct {
	prefix string
	now    func() time.Time
	rand   io.Reader

	mu   sync.Mutex
	last int64
}

// Option customizes a Generator (clock and entropy source are swapped in tests).
type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// New returns a Generator for prefix. An empty prefix falls back to DefaultPrefix.
func New(prefix string, opts ...Option) (*Generator, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !prefixRe.MatchString(prefix) {
		return nil, fmt.Errorf("identifier: invalid prefix %q (2-16 upper-case letters or digits)", prefix)
	}
	g := &Generator{prefix: prefix, now: time.Now, rand: rand.Reader}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Generator) Prefix() string { return g.prefix }

// Generate returns a new identifier. It panics if the random source fails:
// issuing a certificate with a guessable identifier is never acceptable.
func (g *Generator) Generate() string {
	ms := g.tick()
	var buf [suffixLen]byte
	if _, err := io.ReadFull(g.rand, buf[:]); err != nil {
		panic(fmt.Sprintf("identifier: random source unavailable: %v", err))
	}
	suffix := make([]byte, suffixLen)
	for i, b := range buf {
		suffix[i] = alphabet[b&0x1f]
	}
	return g.prefix + "-" + strconv.FormatInt(ms, 10) + "-" + string(suffix)
}

// tick returns the current unix millis, never less than the previous value.
func (g *Generator) tick() int64 {
	ms := g.now().UnixMilli()
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms < g.last {
		ms = g.last
	}
	g.last = ms
	return ms
}

// Valid reports whether id has the shape of an identifier from any prefix.
// It does not say whether the identifier was ever issued.
func Valid(id string) bool {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return false
	}
	if !prefixRe.MatchString(parts[0]) {
		return false
	}
	if len(parts[1]) == 0 || len(parts[1]) > 16 {
		return false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return false
	}
	if len(parts[2]) != suffixLen {
		return false
	}
	for i := 0; i < len(parts[2]); i++ {
		if strings.IndexByte(alphabet, parts[2][i]) < 0 {
			return false
		}
	}
	return true
}
