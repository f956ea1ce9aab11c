// Package credentials resolves the bearer token used by the REST and realtime
// clients from a small persisted key/value store.
//
// The portal historically wrote the token under several key names and never
// migrated them, so lookups walk an ordered list of legacy keys and the first
// non-empty value wins. Collapsing the keys is a storage cleanup, not a
// protocol requirement.
package credentials

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// DefaultKeys lists the legacy token keys in lookup priority.
var DefaultKeys = []string{"snel-roi-token", "admin_token", "token", "access_token"}

// ErrNotFound is returned when none of the lookup keys hold a token.
var ErrNotFound = errors.New("credentials: no token stored")

// Source yields a bearer token.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static is a Source that always returns the same token.
type Static string

// Token implements Source.
func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNotFound
	}
	return string(s), nil
}

// Store is a persisted string key/value store.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Resolver looks a token up across an ordered list of keys.
type Resolver struct {
	store Store
	keys  []string
}

// NewResolver returns a Resolver over store. With no keys, DefaultKeys is used.
func NewResolver(store Store, keys ...string) *Resolver {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	return &Resolver{store: store, keys: append([]string(nil), keys...)}
}

// Keys returns the lookup order.
func (r *Resolver) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Token implements Source. Whitespace-only values count as empty.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	_, tok, err := r.Lookup(ctx)
	return tok, err
}

// Lookup returns the winning key together with its token.
func (r *Resolver) Lookup(ctx context.Context) (key, token string, err error) {
	for _, k := range r.keys {
		v, ok, err := r.store.Get(ctx, k)
		if err != nil {
			return "", "", errors.Wrapf(err, "read credential %q", k)
		}
		if ok && strings.TrimSpace(v) != "" {
			return k, strings.TrimSpace(v), nil
		}
	}
	return "", "", ErrNotFound
}
