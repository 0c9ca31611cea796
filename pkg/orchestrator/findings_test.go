package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/config"
)

const diagnosticsReport = "I scanned the critical namespaces. Two workloads are unhealthy.\n\n" +
	"```json\n" +
	`{
  "findings": [
    {
      "severity": "high",
      "namespace": "payments",
      "workload": "api",
      "kind": "CrashLoopBackOff",
      "evidence": ["pod api-7d9f restarted 18 times"],
      "restart_count": 18,
      "pods_down": 1,
      "pods_total": 3
    },
    {
      "severity": "nonsense",
      "namespace": "web",
      "workload": "frontend",
      "kind": "Pending",
      "pods_down": 1,
      "pods_total": 2
    },
    {
      "severity": "low",
      "namespace": "web",
      "workload": "",
      "kind": "NotReady"
    }
  ]
}` + "\n```\n"

func TestParseFindings_FencedJSON(t *testing.T) {
	now := time.Now()
	findings, err := ParseFindings(diagnosticsReport, "dev-eks", now)
	require.NoError(t, err)
	require.Len(t, findings, 2, "entry without a workload is dropped")

	f := findings[0]
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, "dev-eks", f.Cluster)
	assert.Equal(t, "payments", f.Namespace)
	assert.Equal(t, "api", f.Workload)
	assert.Equal(t, "CrashLoopBackOff", f.Kind)
	assert.Equal(t, 18, f.RestartCount)
	assert.Equal(t, now, f.FirstSeen)

	// Unknown severity degrades to MEDIUM instead of failing the cycle.
	assert.Equal(t, SeverityMedium, findings[1].Severity)
}

func TestParseFindings_EmptyArray(t *testing.T) {
	findings, err := ParseFindings("All healthy.\n```json\n{\"findings\": []}\n```", "dev-eks", time.Now())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestParseFindings_MissingBlock(t *testing.T) {
	_, err := ParseFindings("everything looks fine, no JSON here", "dev-eks", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fenced JSON")
}

func TestParseFindings_MalformedJSON(t *testing.T) {
	_, err := ParseFindings("```json\n{\"findings\": [}\n```", "dev-eks", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestSeverity_AtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
}

func TestFinding_WantsLogAnalysis(t *testing.T) {
	assert.True(t, Finding{Kind: "CrashLoopBackOff"}.wantsLogAnalysis())
	assert.True(t, Finding{Kind: "OOMKilled"}.wantsLogAnalysis())
	assert.False(t, Finding{Kind: "Pending"}.wantsLogAnalysis())
	assert.True(t, Finding{Kind: "NotReady", RestartCount: 12}.wantsLogAnalysis())
}

func TestEscalate_PolicyTable(t *testing.T) {
	downtime := map[config.Criticality]time.Duration{
		config.CriticalityP0: 5 * time.Minute,
		config.CriticalityP1: 30 * time.Minute,
		config.CriticalityP2: 2 * time.Hour,
	}
	now := time.Now()

	cases := []struct {
		name     string
		tier     config.Criticality
		down     int
		total    int
		age      time.Duration
		reported Severity
		want     Severity
	}{
		{"p0 any down", config.CriticalityP0, 1, 3, time.Minute, SeverityLow, SeverityHigh},
		{"p0 all down", config.CriticalityP0, 3, 3, time.Minute, SeverityLow, SeverityCritical},
		{"p0 recovery exceeded", config.CriticalityP0, 1, 3, 10 * time.Minute, SeverityLow, SeverityCritical},
		{"p1 any down", config.CriticalityP1, 1, 2, time.Minute, SeverityLow, SeverityMedium},
		{"p1 all down", config.CriticalityP1, 2, 2, time.Minute, SeverityLow, SeverityHigh},
		{"p1 recovery exceeded", config.CriticalityP1, 1, 2, time.Hour, SeverityLow, SeverityHigh},
		{"p2 any down", config.CriticalityP2, 1, 4, time.Minute, SeverityLow, SeverityLow},
		{"p2 all down", config.CriticalityP2, 4, 4, time.Minute, SeverityLow, SeverityMedium},
		{"p3 defaults like p2", config.CriticalityP3, 1, 4, time.Minute, SeverityLow, SeverityLow},
		{"reported severity is the floor", config.CriticalityP2, 1, 4, time.Minute, SeverityCritical, SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Finding{
				Severity:  tc.reported,
				PodsDown:  tc.down,
				PodsTotal: tc.total,
				FirstSeen: now.Add(-tc.age),
			}
			assert.Equal(t, tc.want, Escalate(f, tc.tier, downtime, now))
		})
	}
}
