package config

import (
	"sort"
	"strings"
	"sync"
)

// PolicyStore resolves the policy for a request path: exact match first, then
// wildcard patterns with the longest prefix winning, then the default. Safe
// for concurrent use; Replace swaps the whole table atomically on reload.
type PolicyStore struct {
	mu       sync.RWMutex
	exact    map[string]Policy
	wildcard []Policy
	def      Policy
}

// NewPolicyStore builds a store from the default policy and the configured
// route policies.
func NewPolicyStore(def Policy, policies []Policy) *PolicyStore {
	s := &PolicyStore{}
	s.Replace(def, policies)
	return s
}

// Replace swaps in a new policy table, used by the config watcher.
func (s *PolicyStore) Replace(def Policy, policies []Policy) {
	exact := make(map[string]Policy, len(policies))
	var wildcard []Policy
	for _, p := range policies {
		if strings.HasSuffix(p.Path, "/*") {
			wildcard = append(wildcard, p)
		} else {
			exact[p.Path] = p
		}
	}
	sortWildcards(wildcard)

	s.mu.Lock()
	s.exact = exact
	s.wildcard = wildcard
	s.def = def
	s.mu.Unlock()
}

// Lookup returns the policy governing path.
func (s *PolicyStore) Lookup(path string) Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.exact[path]; ok {
		return p
	}
	for _, p := range s.wildcard {
		if matchPath(p.Path, path) {
			return p
		}
	}
	return s.def
}

// Set inserts or updates a single route policy.
func (s *PolicyStore) Set(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !strings.HasSuffix(p.Path, "/*") {
		s.exact[p.Path] = p
		return
	}
	for i := range s.wildcard {
		if s.wildcard[i].Path == p.Path {
			s.wildcard[i] = p
			return
		}
	}
	s.wildcard = append(s.wildcard, p)
	sortWildcards(s.wildcard)
}

// List returns all route policies sorted by path.
func (s *PolicyStore) List() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Policy, 0, len(s.exact)+len(s.wildcard))
	for _, p := range s.exact {
		out = append(out, p)
	}
	out = append(out, s.wildcard...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Default returns the fallback policy.
func (s *PolicyStore) Default() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// sortWildcards orders patterns longest first so the most specific wins.
func sortWildcards(policies []Policy) {
	sort.Slice(policies, func(i, j int) bool { return len(policies[i].Path) > len(policies[j].Path) })
}

// matchPath checks a wildcard pattern against a path. /api/* matches
// /api/data but not /api itself.
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(path, prefix+"/")
	}
	return false
}
