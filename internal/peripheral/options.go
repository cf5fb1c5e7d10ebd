package peripheral

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"nousim/internal/domain"
)

// Option configures a handle at construction.
type Option func(*options)

type options struct {
	logger *slog.Logger
	claims *Claims
}

// WithLogger sets the logger used for acquire/release and write tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClaims makes construction fail when another live handle in the same
// process already holds the same (kind, index).
func WithClaims(c *Claims) Option {
	return func(o *options) { o.claims = c }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type claimKey struct {
	kind  string
	index int
}

// Claims is an in-process registry of live (kind, index) claims. A nil
// *Claims accepts every claim.
type Claims struct {
	mu   sync.Mutex
	held map[claimKey]struct{}
}

// NewClaims creates an empty registry.
func NewClaims() *Claims {
	return &Claims{held: make(map[claimKey]struct{})}
}

func (c *Claims) claim(kind string, index int) (func(), error) {
	if c == nil {
		return func() {}, nil
	}
	key := claimKey{kind: kind, index: index}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[key]; ok {
		return nil, domain.NewDomainError("Claims.claim",
			fmt.Errorf("%w: %w", domain.ErrResourceUnavailable, domain.ErrDuplicate),
			domain.DeviceName(kind, index)+" already claimed")
	}
	c.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.held, key)
			c.mu.Unlock()
		})
	}, nil
}

// Held reports whether (kind, index) is currently claimed.
func (c *Claims) Held(kind string, index int) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[claimKey{kind: kind, index: index}]
	return ok
}

// Len returns the number of live claims.
func (c *Claims) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
