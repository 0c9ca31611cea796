package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "base_url: {{.JIRA_BASE_URL}}",
			env:   map[string]string{"JIRA_BASE_URL": "https://acme.atlassian.net"},
			want:  "base_url: https://acme.atlassian.net",
		},
		{
			name:  "literal ${VAR} is NOT expanded (no collision)",
			input: "pattern: ${POD_ID}",
			env:   map[string]string{"POD_ID": "123"},
			want:  "pattern: ${POD_ID}",
		},
		{
			name:  "literal $VAR is NOT expanded (no collision)",
			input: "regex: ^secret.*$",
			env:   map[string]string{},
			want:  "regex: ^secret.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "addr: {{.VIGIL_HOST}}:{{.VIGIL_PORT}}",
			env: map[string]string{
				"VIGIL_HOST": "0.0.0.0",
				"VIGIL_PORT": "8080",
			},
			want: "addr: 0.0.0.0:8080",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "variables in YAML array",
			input: "allowed:\n  - {{.CLUSTER_A}}\n  - {{.CLUSTER_B}}",
			env: map[string]string{
				"CLUSTER_A": "dev-eks",
				"CLUSTER_B": "stage-eks",
			},
			want: "allowed:\n  - dev-eks\n  - stage-eks",
		},
		{
			name:  "variables in nested YAML structure",
			input: "datadog:\n  site: {{.DD_SITE}}\n  api_key_env: {{.DD_KEY_NAME}}",
			env: map[string]string{
				"DD_SITE":     "datadoghq.eu",
				"DD_KEY_NAME": "DD_API_KEY",
			},
			want: "datadog:\n  site: datadoghq.eu\n  api_key_env: DD_API_KEY",
		},
		{
			name:  "special characters in expanded value",
			input: "channel: {{.SLACK_CHANNEL}}",
			env:   map[string]string{"SLACK_CHANNEL": "#incidents-p0!"},
			want:  "channel: #incidents-p0!",
		},
		{
			name:  "literal dollar preserved",
			input: "note: costs $40/mo",
			env:   map[string]string{},
			want:  "note: costs $40/mo",
		},
		{
			name:  "adjacent variables without separator",
			input: "{{.VAR1}}{{.VAR2}}",
			env: map[string]string{
				"VAR1": "dev-",
				"VAR2": "eks",
			},
			want: "dev-eks",
		},
		{
			name:  "empty string variable",
			input: "value: {{.EMPTY}}",
			env:   map[string]string{"EMPTY": ""},
			want:  "value: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set up environment variables
			for k, v := range tt.env {
				t.Setenv(k, v) // Automatic cleanup after test
			}

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestExpandEnvPreservesOriginalWhenNoVariables(t *testing.T) {
	input := `
# This is a comment
clusters:
  allowed: [dev-eks]
  target: dev-eks
orchestrator:
  interval: 15m
`

	result := ExpandEnv([]byte(input))
	assert.Equal(t, input, string(result), "Content without variables should be unchanged")
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	result := ExpandEnv([]byte(""))
	assert.Equal(t, "", string(result), "Empty input should return empty output")
}

// TestExpandEnvMalformedTemplates verifies that malformed template syntax
// is passed through unchanged rather than causing errors. This allows the
// YAML parser to handle the content or fail with a clearer error message.
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "unclosed template - missing closing braces",
			input: "token_env: {{.GITHUB_TOKEN",
		},
		{
			name:  "incomplete template - only opening braces",
			input: "token_env: {{",
		},
		{
			name:  "single closing brace after variable",
			input: "token_env: {{.GITHUB_TOKEN}",
		},
		{
			name:  "malformed variable name - missing dot",
			input: "token_env: {{GITHUB_TOKEN}}",
		},
		{
			name:  "space in variable name",
			input: "token_env: {{.GITHUB TOKEN}}",
		},
		{
			name:  "unclosed with valid YAML around it",
			input: "addr: :8080\ntoken_env: {{.GITHUB_TOKEN\nproject: OPS",
		},
		{
			name:  "template with undefined function",
			input: `token_env: {{.GITHUB_TOKEN | upper}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GITHUB_TOKEN", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))

			assert.Equal(t, tt.input, string(result),
				"Malformed template should be passed through unchanged")
			assert.NotContains(t, string(result), "should-not-appear",
				"Malformed template should not expand environment variables")
		})
	}
}

// TestExpandEnvPassThroughToYAMLParser verifies that when ExpandEnv returns
// original data due to template errors, the YAML parser can still process it.
func TestExpandEnvPassThroughToYAMLParser(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectYAMLErr bool
	}{
		{
			name: "valid YAML without templates passes through successfully",
			input: `
addr: :8080
project: OPS
`,
			expectYAMLErr: false,
		},
		{
			name: "malformed template but valid YAML structure",
			input: `
addr: :8080
token_env: "{{.GITHUB_TOKEN"
`,
			expectYAMLErr: false,
		},
		{
			name: "malformed template with invalid YAML",
			input: `
addr: :8080
token_env: {{.GITHUB_TOKEN
  invalid: indentation
`,
			expectYAMLErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expanded := ExpandEnv([]byte(tt.input))

			var result map[string]any
			err := yaml.Unmarshal(expanded, &result)

			if tt.expectYAMLErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, result)
			}
		})
	}
}

func TestExpandEnvThreadSafety(t *testing.T) {
	// Each call creates a new template and reads the environment fresh.
	input := []byte("cluster: {{.TEST_CLUSTER}}")
	t.Setenv("TEST_CLUSTER", "dev-eks")

	const goroutines = 100
	results := make([]string, goroutines)
	done := make(chan bool)

	for i := 0; i < goroutines; i++ {
		go func(index int) {
			results[index] = string(ExpandEnv(input))
			done <- true
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		<-done
	}

	for i, result := range results {
		assert.Equal(t, "cluster: dev-eks", result, "Result %d should match", i)
	}
}
