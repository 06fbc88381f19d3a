// Package cache stores successful responses to idempotent reads and serves
// them until their TTL elapses, within a fixed entry-count ceiling. Entries
// are keyed by a deterministic fingerprint of the request shape and, for
// identity-sensitive routes, the caller; expiry is enforced passively on
// read and capacity by FIFO eviction on write. Invalidation is explicit
// (exact key or prefix) and driven from outside; the cache knows nothing of
// domain semantics.
package cache

import (
	"net/url"
	"sort"
	"strings"
)

// identityScopeSeparator splits the request shape from the caller scope in a
// key. Keys are kept readable rather than hashed so operators can reason
// about prefix invalidation patterns.
const identityScopeSeparator = "|scope="

// BuildKey constructs the fingerprint for a cacheable request: the method,
// the path, and the query string with parameters sorted so equivalent
// requests collide regardless of parameter order. scope is the caller's
// subject for identity-scoped routes and empty otherwise; scoped keys are
// never served to a different caller because the scope is part of the key.
func BuildKey(method, path, rawQuery, scope string) string {
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(rawQuery) + len(scope) + 16)

	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(normalizePath(path))

	if q := normalizeQuery(rawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if scope != "" {
		b.WriteString(identityScopeSeparator)
		b.WriteString(scope)
	}
	return b.String()
}

// normalizePath collapses a trailing slash so /bookings and /bookings/ share
// an entry. The root path stays as-is.
func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

// normalizeQuery re-encodes the query with keys and per-key values sorted.
// Unparseable queries participate verbatim: a malformed query still caches,
// it just never collides with anything else.
func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for _, vals := range values {
		sort.Strings(vals)
	}
	return values.Encode()
}
