package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy is the stored cache-control decision for one (method, url) HTTP
// cache entry: the directives and validators needed to decide freshness
// and revalidation without re-parsing the original response headers.
type Policy struct {
	Status         int
	StoredAt       time.Time
	MaxAge         int
	HasMaxAge      bool
	SMaxAge        int
	HasSMaxAge     bool
	Expires        time.Time
	HasExpires     bool
	ETag           string
	LastModified   string
	Vary           []string
	NoStore        bool
	NoCache        bool
	MustRevalidate bool
	Immutable      bool
}

// NewPolicy builds a Policy from a response's status and headers, captured
// at storedAt (the time the response was received).
func NewPolicy(status int, header http.Header, storedAt time.Time) Policy {
	p := Policy{
		Status:       status,
		StoredAt:     storedAt,
		ETag:         header.Get("ETag"),
		LastModified: header.Get("Last-Modified"),
	}

	if vary := header.Get("Vary"); vary != "" {
		for _, v := range strings.Split(vary, ",") {
			p.Vary = append(p.Vary, strings.TrimSpace(v))
		}
	}

	if exp := header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			p.Expires = t
			p.HasExpires = true
		}
	}

	applyCacheControl(&p, header.Get("Cache-Control"))

	return p
}

// applyCacheControl parses a Cache-Control header value into p. Per
// spec.md's explicit rule: a malformed directive sets MustRevalidate, and a
// directive repeated more than once collapses to its first occurrence and
// also sets MustRevalidate — on the theory that a response disagreeing with
// itself about its own caching rules should never be trusted at face value.
func applyCacheControl(p *Policy, header string) {
	if header == "" {
		return
	}

	seen := map[string]bool{}

	for _, raw := range strings.Split(header, ",") {
		directive := strings.TrimSpace(raw)
		if directive == "" {
			continue
		}

		name, value, hasValue := strings.Cut(directive, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		if seen[name] {
			p.MustRevalidate = true
			continue
		}
		seen[name] = true

		switch name {
		case "no-store":
			p.NoStore = true
		case "no-cache":
			p.NoCache = true
		case "must-revalidate", "proxy-revalidate":
			p.MustRevalidate = true
		case "immutable":
			p.Immutable = true
		case "max-age":
			n, err := strconv.Atoi(value)
			if !hasValue || err != nil {
				p.MustRevalidate = true
				continue
			}

			p.MaxAge = n
			p.HasMaxAge = true
		case "s-maxage":
			n, err := strconv.Atoi(value)
			if !hasValue || err != nil {
				p.MustRevalidate = true
				continue
			}

			p.SMaxAge = n
			p.HasSMaxAge = true
		}
	}
}

// HasValidator reports whether the policy carries a validator usable for a
// conditional revalidation request (If-None-Match / If-Modified-Since).
func (p Policy) HasValidator() bool {
	return p.ETag != "" || p.LastModified != ""
}

// FreshnessLifetime computes the RFC 9111 freshness lifetime: s-maxage
// takes priority over max-age, which takes priority over Expires. Heuristic
// freshness is deliberately disabled per spec.md — with no explicit
// directive, the lifetime is zero, not inferred from Last-Modified.
func (p Policy) FreshnessLifetime() time.Duration {
	switch {
	case p.HasSMaxAge:
		return time.Duration(p.SMaxAge) * time.Second
	case p.HasMaxAge:
		return time.Duration(p.MaxAge) * time.Second
	case p.HasExpires:
		lifetime := p.Expires.Sub(p.StoredAt)
		if lifetime < 0 {
			return 0
		}

		return lifetime
	default:
		return 0
	}
}

// Age returns how long the cached entry has sat since it was stored.
func (p Policy) Age(now time.Time) time.Duration {
	return now.Sub(p.StoredAt)
}

// Fresh reports whether the cached entry is still fresh at now. immutable
// entries are always considered fresh regardless of age, per spec.md.
func (p Policy) Fresh(now time.Time) bool {
	if p.Immutable {
		return true
	}

	return p.Age(now) < p.FreshnessLifetime()
}

// Outcome is the decision produced by Decide for a cache lookup.
type Outcome int

const (
	// OutcomeNetworkFetch means there is no usable cache entry: fetch over
	// the network and store the result if cacheable.
	OutcomeNetworkFetch Outcome = iota
	// OutcomeReturnCached means the cached body can be returned as-is.
	OutcomeReturnCached
	// OutcomeRevalidate means a conditional request should be issued with
	// the stored validators; on 304 the policy is refreshed and the body
	// reused, on 200 the new body replaces the old.
	OutcomeRevalidate
	// OutcomeDiscardFullFetch means the cached entry is stale and has no
	// validator to revalidate with: discard it and fetch fresh.
	OutcomeDiscardFullFetch
)

// Decide implements spec.md's cache decision table.
func Decide(hit bool, p Policy, now time.Time) Outcome {
	if !hit {
		return OutcomeNetworkFetch
	}

	if p.MustRevalidate {
		if p.HasValidator() {
			return OutcomeRevalidate
		}

		return OutcomeDiscardFullFetch
	}

	if p.Fresh(now) {
		return OutcomeReturnCached
	}

	if p.HasValidator() {
		return OutcomeRevalidate
	}

	return OutcomeDiscardFullFetch
}
