package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces Kubernetes Secret data values.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

var (
	yamlSecretPattern = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretPattern = regexp.MustCompile(`"kind"\s*:\s*"Secret`)
)

// KubernetesSecretMasker masks data/stringData fields in Kubernetes Secret
// resources while leaving ConfigMaps and other kinds untouched. Tool results
// frequently carry kubectl-style YAML or JSON; regex masking alone cannot
// tell a Secret value from an innocuous base64 string, this masker can.
type KubernetesSecretMasker struct{}

// Name returns the unique identifier for this masker.
func (m *KubernetesSecretMasker) Name() string { return "kubernetes_secret" }

// AppliesTo performs a lightweight check before parsing.
func (m *KubernetesSecretMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "Secret") {
		return false
	}
	return yamlSecretPattern.MatchString(data) || jsonSecretPattern.MatchString(data)
}

// Mask detects JSON vs YAML and masks Secret data fields.
// Returns the original data on parse errors.
func (m *KubernetesSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)

	// JSON first when the input looks like JSON, so the YAML parser does
	// not consume it and re-serialize as YAML.
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}

	if masked := m.maskYAML(data); masked != data {
		return masked
	}

	return data
}

// maskYAML parses multi-document YAML and masks Secret resources.
func (m *KubernetesSecretMasker) maskYAML(data string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []map[string]any
	anySecret := false

	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}
		if doc == nil {
			continue
		}
		if maskResource(doc) {
			anySecret = true
		}
		documents = append(documents, doc)
	}

	if !anySecret || len(documents) == 0 {
		return data
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	// yaml.Encoder always adds a trailing newline; match the original.
	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskJSON parses a JSON object and masks Secret resources.
func (m *KubernetesSecretMasker) maskJSON(data string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}

	if !maskResource(obj) {
		return data
	}

	result, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return data
	}

	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

// maskResource masks a single resource or the Secret items of a List.
// Returns true when anything was masked.
func maskResource(resource map[string]any) bool {
	if isSecret(resource) {
		maskSecretData(resource)
		maskAnnotationSecrets(resource)
		return true
	}
	if !isList(resource) {
		return false
	}

	items, _ := resource["items"].([]any)
	masked := false
	for _, item := range items {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// Items of a SecretList carry no kind of their own.
		if isSecret(itemMap) || kindOf(resource) == "SecretList" {
			maskSecretData(itemMap)
			maskAnnotationSecrets(itemMap)
			masked = true
		}
	}
	return masked
}

func kindOf(resource map[string]any) string {
	kind, _ := resource["kind"].(string)
	return kind
}

func isSecret(resource map[string]any) bool {
	return kindOf(resource) == "Secret"
}

func isList(resource map[string]any) bool {
	return strings.HasSuffix(kindOf(resource), "List")
}

// maskSecretData replaces values in "data" and "stringData" map fields.
func maskSecretData(resource map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		dataMap, ok := resource[field].(map[string]any)
		if !ok {
			continue
		}
		for key := range dataMap {
			dataMap[key] = MaskedSecretValue
		}
	}
}

// maskAnnotationSecrets checks annotations for embedded JSON Secrets, e.g.
// kubectl.kubernetes.io/last-applied-configuration.
func maskAnnotationSecrets(resource map[string]any) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}

	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok || !strings.Contains(strVal, "Secret") {
			continue
		}

		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		if !isSecret(embedded) {
			continue
		}

		maskSecretData(embedded)
		masked, err := json.Marshal(embedded)
		if err != nil {
			continue
		}
		annotations[key] = string(masked)
	}
}
