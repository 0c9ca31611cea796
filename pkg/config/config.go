package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Config is the umbrella configuration object that encapsulates all
// resolved sections and the service map.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir   string // Configuration directory path (for reference)
	fingerprint string // Short hash of the raw config bytes, stamped into audit entries

	Log          *LogConfig
	Clusters     *ClustersConfig
	LLM          *LLMConfig
	Orchestrator *OrchestratorConfig
	Query        *QueryConfig
	Budgets      *BudgetsConfig
	Correlation  *CorrelationConfig
	Thresholds   *ThresholdsConfig
	Remediation  *RemediationConfig
	GitHub       *GitHubConfig
	Jira         *JiraConfig
	AWS          *AWSConfig
	Datadog      *DatadogConfig
	Notify       *NotifyConfig
	API          *APIConfig
	Audit        *AuditConfig

	// ProtectedNamespaces are never targets of write or destructive tools.
	ProtectedNamespaces []string

	// Services is the read-only service map loaded from services.yaml.
	Services *ServiceMap
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Services        int
	AllowedClusters int
	DevClusters     int
	ModelOverrides  int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Services != nil {
		s.Services = c.Services.Len()
	}
	if c.Clusters != nil {
		s.AllowedClusters = len(c.Clusters.Allowed)
		s.DevClusters = len(c.Clusters.Dev)
	}
	if c.LLM != nil {
		s.ModelOverrides = len(c.LLM.Models)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Fingerprint returns the short hash of the loaded configuration bytes.
// Audit entries carry it so log lines can be traced to a config revision.
func (c *Config) Fingerprint() string {
	return c.fingerprint
}

// TargetCluster returns the cluster this deployment observes.
func (c *Config) TargetCluster() string {
	return c.Clusters.Target
}

// IsDevCluster reports whether the named cluster is on the dev list.
// Auto-remediation is only ever approved on dev clusters.
func (c *Config) IsDevCluster(name string) bool {
	for _, dev := range c.Clusters.Dev {
		if dev == name {
			return true
		}
	}
	return false
}

// IsProtectedNamespace reports whether a namespace is off-limits to
// write and destructive tools.
func (c *Config) IsProtectedNamespace(ns string) bool {
	for _, p := range c.ProtectedNamespaces {
		if p == ns {
			return true
		}
	}
	return false
}

// GetService retrieves a service entry by component name.
// This is a convenience method that wraps ServiceMap.Get().
func (c *Config) GetService(component string) (ServiceEntry, error) {
	e, ok := c.Services.Get(component)
	if !ok {
		return ServiceEntry{}, fmt.Errorf("%w: %s", ErrServiceNotFound, component)
	}
	return e, nil
}

// fingerprintBytes hashes raw config bytes to a short stable identifier.
func fingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8]
}

// splitAndTrim splits s on sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
