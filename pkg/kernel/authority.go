package kernel

import (
	"sort"
	"strings"
	"sync"
)

// Origins that may emit events.
const (
	OriginRuntime = "runtime"
	OriginSystem  = "system"
	AgentPrefix   = "agent:"
	// AgentWildcard in an allowed set admits every origin carrying AgentPrefix.
	AgentWildcard = AgentPrefix + "*"
)

// AgentOrigin returns the origin string for agent id.
func AgentOrigin(id string) string { return AgentPrefix + id }

// Authority maps every event type to the origins permitted to emit it.
// It is immutable once built.
type Authority struct {
	allowed map[EventType]map[string]struct{}
}

// BuildAuthority derives the table from the taxonomy. A category without an
// authority rule is a definition error.
func BuildAuthority() (*Authority, error) {
	return buildAuthority(taxonomy)
}

func buildAuthority(catalog map[EventType]Category) (*Authority, error) {
	a := &Authority{allowed: make(map[EventType]map[string]struct{}, len(catalog))}
	for t, cat := range catalog {
		var origins []string
		switch cat {
		case CategoryRuntime, CategoryDomain, CategoryMemory:
			origins = []string{OriginRuntime}
		case CategoryCognitive:
			origins = []string{AgentWildcard}
		case CategoryCapability:
			if t == CapabilityRequested {
				origins = []string{AgentWildcard}
			} else {
				origins = []string{OriginRuntime}
			}
		default:
			return nil, &DefinitionError{EventType: t, Message: "no authority rule for category " + cat.String()}
		}
		set := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			set[o] = struct{}{}
		}
		a.allowed[t] = set
	}
	return a, nil
}

var (
	defaultAuthority     *Authority
	defaultAuthorityOnce sync.Once
)

// DefaultAuthority returns the process-wide table, built on first use.
// It panics if the static tables are inconsistent.
func DefaultAuthority() *Authority {
	defaultAuthorityOnce.Do(func() {
		a, err := BuildAuthority()
		if err != nil {
			panic(err)
		}
		defaultAuthority = a
	})
	return defaultAuthority
}

// IsOriginAuthorized reports whether origin may emit events of type t.
func (a *Authority) IsOriginAuthorized(origin string, t EventType) bool {
	set, ok := a.allowed[t]
	if !ok {
		return false
	}
	if _, ok := set[origin]; ok {
		return true
	}
	if _, ok := set[AgentWildcard]; ok && strings.HasPrefix(origin, AgentPrefix) {
		return true
	}
	return false
}

// AllowedOriginsFor returns a sorted copy of the origins allowed for t.
// Unknown types yield an empty slice.
func (a *Authority) AllowedOriginsFor(t EventType) []string {
	set := a.allowed[t]
	out := make([]string, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// IsOriginAuthorized checks origin against the default table.
func IsOriginAuthorized(origin string, t EventType) bool {
	return DefaultAuthority().IsOriginAuthorized(origin, t)
}

// AllowedOriginsFor queries the default table.
func AllowedOriginsFor(t EventType) []string {
	return DefaultAuthority().AllowedOriginsFor(t)
}
