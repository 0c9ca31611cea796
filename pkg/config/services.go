package config

import "sort"

// Criticality ranks a service tier for escalation decisions.
type Criticality string

const (
	CriticalityP0 Criticality = "P0"
	CriticalityP1 Criticality = "P1"
	CriticalityP2 Criticality = "P2"
	CriticalityP3 Criticality = "P3"
)

// IsValid reports whether the criticality is a known tier.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityP0, CriticalityP1, CriticalityP2, CriticalityP3:
		return true
	}
	return false
}

// ServiceEntry describes one service from the service map.
type ServiceEntry struct {
	// Name is the component name findings are attributed to.
	Name string
	// RepoOwner and RepoName locate the service's GitHub repository.
	// Either may be empty for services without a mapped repo.
	RepoOwner string
	RepoName  string
	// Criticality is the service tier, P0 (most critical) through P3.
	Criticality Criticality
	// KnownIssues are freeform operator notes surfaced to subagent prompts.
	KnownIssues []string
	// DependsOn lists component names this service depends on.
	DependsOn []string
}

// Repo returns the owner/name slug, or "" when no repository is mapped.
func (e ServiceEntry) Repo() string {
	if e.RepoOwner == "" || e.RepoName == "" {
		return ""
	}
	return e.RepoOwner + "/" + e.RepoName
}

func (e ServiceEntry) clone() ServiceEntry {
	c := e
	if len(e.KnownIssues) > 0 {
		c.KnownIssues = make([]string, len(e.KnownIssues))
		copy(c.KnownIssues, e.KnownIssues)
	}
	if len(e.DependsOn) > 0 {
		c.DependsOn = make([]string, len(e.DependsOn))
		copy(c.DependsOn, e.DependsOn)
	}
	return c
}

// ServiceMap holds the known services, keyed by component name.
// All lookups return clones so callers cannot mutate shared state.
type ServiceMap struct {
	entries []ServiceEntry
}

// BuildServiceMap creates a map from the raw service entries.
// Entries with invalid criticality are kept; CriticalityOf treats them as P3.
func BuildServiceMap(services map[string]serviceYAML) *ServiceMap {
	var entries []ServiceEntry
	for name, svc := range services {
		entry := ServiceEntry{
			Name:        name,
			RepoOwner:   svc.RepoOwner,
			RepoName:    svc.RepoName,
			Criticality: Criticality(svc.Criticality),
		}
		if len(svc.KnownIssues) > 0 {
			entry.KnownIssues = make([]string, len(svc.KnownIssues))
			copy(entry.KnownIssues, svc.KnownIssues)
		}
		if len(svc.DependsOn) > 0 {
			entry.DependsOn = make([]string, len(svc.DependsOn))
			copy(entry.DependsOn, svc.DependsOn)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return &ServiceMap{entries: entries}
}

// ServiceMapFromEntries builds a map directly from entries, for callers
// outside the YAML loading path.
func ServiceMapFromEntries(entries []ServiceEntry) *ServiceMap {
	cloned := make([]ServiceEntry, len(entries))
	for i, e := range entries {
		cloned[i] = e.clone()
	}
	sort.Slice(cloned, func(i, j int) bool {
		return cloned[i].Name < cloned[j].Name
	})
	return &ServiceMap{entries: cloned}
}

// Entries returns a deep copy of all entries, sorted by name.
func (s *ServiceMap) Entries() []ServiceEntry {
	out := make([]ServiceEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns the entry for the given component name, or false if unknown.
func (s *ServiceMap) Get(name string) (ServiceEntry, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e.clone(), true
		}
	}
	return ServiceEntry{}, false
}

// CriticalityOf returns the tier for a component. Unknown components and
// entries with an invalid tier default to P3.
func (s *ServiceMap) CriticalityOf(name string) Criticality {
	if e, ok := s.Get(name); ok && e.Criticality.IsValid() {
		return e.Criticality
	}
	return CriticalityP3
}

// ByRepo returns the entry owning the given owner/name slug, or false.
// Used by the ticket correlator to attribute merged PRs to a component.
func (s *ServiceMap) ByRepo(slug string) (ServiceEntry, bool) {
	if slug == "" {
		return ServiceEntry{}, false
	}
	for _, e := range s.entries {
		if e.Repo() == slug {
			return e.clone(), true
		}
	}
	return ServiceEntry{}, false
}

// Names returns all component names, sorted.
func (s *ServiceMap) Names() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of registered services.
func (s *ServiceMap) Len() int {
	return len(s.entries)
}
