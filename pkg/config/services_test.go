package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildServiceMap(t *testing.T) {
	services := map[string]serviceYAML{
		"api": {
			RepoOwner:   "acme",
			RepoName:    "api",
			Criticality: "P0",
			KnownIssues: []string{"slow cold start"},
			DependsOn:   []string{"billing"},
		},
		"billing": {
			RepoOwner:   "acme",
			RepoName:    "billing",
			Criticality: "P1",
		},
		"cache": {
			Criticality: "P3",
		},
	}

	m := BuildServiceMap(services)
	entries := m.Entries()

	require.Len(t, entries, 3)
	assert.Equal(t, 3, m.Len())

	// Sorted by name
	assert.Equal(t, "api", entries[0].Name)
	assert.Equal(t, "billing", entries[1].Name)
	assert.Equal(t, "cache", entries[2].Name)

	assert.Equal(t, CriticalityP0, entries[0].Criticality)
	assert.Equal(t, []string{"slow cold start"}, entries[0].KnownIssues)
	assert.Equal(t, []string{"billing"}, entries[0].DependsOn)
	assert.Equal(t, "acme/api", entries[0].Repo())
	assert.Equal(t, "", entries[2].Repo(), "no repo mapped")

	assert.Equal(t, []string{"api", "billing", "cache"}, m.Names())
}

func TestServiceMapGet(t *testing.T) {
	m := BuildServiceMap(map[string]serviceYAML{
		"api": {RepoOwner: "acme", RepoName: "api", Criticality: "P0"},
	})

	e, ok := m.Get("api")
	require.True(t, ok)
	assert.Equal(t, "api", e.Name)

	_, ok = m.Get("ghost")
	assert.False(t, ok)
}

func TestServiceMapGetReturnsClone(t *testing.T) {
	m := BuildServiceMap(map[string]serviceYAML{
		"api": {Criticality: "P0", KnownIssues: []string{"original"}},
	})

	e, ok := m.Get("api")
	require.True(t, ok)
	e.KnownIssues[0] = "mutated"

	again, _ := m.Get("api")
	assert.Equal(t, "original", again.KnownIssues[0], "callers must not mutate shared state")
}

func TestServiceMapCriticalityOf(t *testing.T) {
	m := BuildServiceMap(map[string]serviceYAML{
		"api":   {Criticality: "P0"},
		"batch": {}, // no tier configured
	})

	assert.Equal(t, CriticalityP0, m.CriticalityOf("api"))
	assert.Equal(t, CriticalityP3, m.CriticalityOf("batch"), "missing tier degrades to P3")
	assert.Equal(t, CriticalityP3, m.CriticalityOf("ghost"), "unknown component degrades to P3")
}

func TestServiceMapByRepo(t *testing.T) {
	m := BuildServiceMap(map[string]serviceYAML{
		"api":   {RepoOwner: "acme", RepoName: "api", Criticality: "P0"},
		"cache": {Criticality: "P3"},
	})

	e, ok := m.ByRepo("acme/api")
	require.True(t, ok)
	assert.Equal(t, "api", e.Name)

	_, ok = m.ByRepo("acme/unknown")
	assert.False(t, ok)

	// Entries without a repo never match the empty slug
	_, ok = m.ByRepo("")
	assert.False(t, ok)
}

func TestCriticalityIsValid(t *testing.T) {
	assert.True(t, CriticalityP0.IsValid())
	assert.True(t, CriticalityP1.IsValid())
	assert.True(t, CriticalityP2.IsValid())
	assert.True(t, CriticalityP3.IsValid())
	assert.False(t, Criticality("P9").IsValid())
	assert.False(t, Criticality("").IsValid())
	assert.False(t, Criticality("p0").IsValid(), "tiers are case-sensitive")
}

func TestBuildServiceMapEmpty(t *testing.T) {
	m := BuildServiceMap(nil)
	assert.Empty(t, m.Entries())
	assert.Equal(t, 0, m.Len())
}
