package masking

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestKubernetesSecretMasker_Name(t *testing.T) {
	assert.Equal(t, "kubernetes_secret", (&KubernetesSecretMasker{}).Name())
}

func TestKubernetesSecretMasker_AppliesTo(t *testing.T) {
	m := &KubernetesSecretMasker{}

	applies := []string{
		"apiVersion: v1\nkind: Secret\nmetadata:\n  name: test",
		`{"apiVersion": "v1", "kind": "Secret", "metadata": {"name": "test"}}`,
		"apiVersion: v1\nkind: SecretList\nitems: []",
		`{"apiVersion": "v1", "kind": "SecretList", "items": []}`,
	}
	for _, input := range applies {
		assert.True(t, m.AppliesTo(input), "should apply to: %s", input)
	}

	doesNotApply := []string{
		"apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: test",
		"apiVersion: v1\nkind: Pod\nmetadata:\n  name: test",
		"This is a Secret message about something",
		// The kind pattern matches "Secret"/"SecretList" exactly, not substrings.
		"apiVersion: v1\nkind: SecretStore\nmetadata:\n  name: not-a-secret",
		"",
	}
	for _, input := range doesNotApply {
		assert.False(t, m.AppliesTo(input), "should not apply to: %s", input)
	}
}

func TestKubernetesSecretMasker_YAMLSecret(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := fixture(t, "secret_yaml.txt")

	require.True(t, m.AppliesTo(input))
	result := m.Mask(input)

	require.NotEqual(t, input, result)
	assert.Contains(t, result, MaskedSecretValue)

	// Resource shape and metadata survive, payloads do not.
	assert.Contains(t, result, "kind: Secret")
	assert.Contains(t, result, "name: test-fake-secret")
	for _, leaked := range []string{"RkFLRS1hZG1pbg==", "RkFLRS1wYXNzd29yZA==", "FAKE-api-key-not-real"} {
		assert.NotContains(t, result, leaked)
	}
}

func TestKubernetesSecretMasker_ConfigMapUntouched(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := fixture(t, "configmap_yaml.txt")

	assert.False(t, m.AppliesTo(input))
	assert.Equal(t, input, m.Mask(input), "non-Secret resources pass through unchanged")
}

func TestKubernetesSecretMasker_YAMLMultiDocument(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := fixture(t, "secret_list_yaml.txt")

	result := m.Mask(input)

	require.NotEqual(t, input, result)
	assert.NotContains(t, result, "RkFLRS1kYi1wYXNz")
	assert.NotContains(t, result, "RkFLRS10bHMtY2VydC1kYXRh")

	// The ConfigMap document in the same stream stays intact.
	assert.Contains(t, result, "kind: ConfigMap")
	assert.Contains(t, result, "APP_ENV")
	assert.Contains(t, result, "production")
}

func TestKubernetesSecretMasker_JSONSecret(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := fixture(t, "secret_json.txt")

	result := m.Mask(input)

	require.NotEqual(t, input, result)
	assert.Contains(t, result, MaskedSecretValue)
	assert.Contains(t, result, `"kind": "Secret"`)
	for _, leaked := range []string{"RkFLRS1hZG1pbg==", "RkFLRS1wYXNzd29yZA==", "FAKE-api-key-not-real"} {
		assert.NotContains(t, result, leaked)
	}
}

func TestKubernetesSecretMasker_JSONMixedList(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := fixture(t, "mixed_resources.txt")

	result := m.Mask(input)
	require.NotEqual(t, input, result)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(result), &parsed))
	items, ok := parsed["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 3)

	secret1 := items[0].(map[string]any)
	assert.Equal(t, "Secret", secret1["kind"])
	assert.Equal(t, MaskedSecretValue, secret1["data"])

	// The ConfigMap sandwiched between the two Secrets keeps its data.
	configMap := items[1].(map[string]any)
	assert.Equal(t, "ConfigMap", configMap["kind"])
	cmData, ok := configMap["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "staging", cmData["ENVIRONMENT"])
	assert.Equal(t, "false", cmData["DEBUG"])

	secret2 := items[2].(map[string]any)
	assert.Equal(t, "Secret", secret2["kind"])
	assert.Equal(t, MaskedSecretValue, secret2["data"])
}

func TestKubernetesSecretMasker_UnparseableInputPassesThrough(t *testing.T) {
	m := &KubernetesSecretMasker{}

	inputs := []string{
		"kind: Secret\nthis is not: valid: yaml: [[",
		`{"kind": "Secret", "data": {broken json`,
		"This is just plain text mentioning kind: Secret in a log message",
	}
	for _, input := range inputs {
		assert.Equal(t, input, m.Mask(input), "unparseable input must return original: %s", input)
	}
}

func TestKubernetesSecretMasker_DataFieldVariants(t *testing.T) {
	m := &KubernetesSecretMasker{}

	t.Run("empty data map still replaced", func(t *testing.T) {
		result := m.Mask("apiVersion: v1\nkind: Secret\nmetadata:\n  name: empty-secret\ndata: {}\n")
		assert.Contains(t, result, "kind: Secret")
		assert.Contains(t, result, MaskedSecretValue)
	})

	t.Run("stringData masked", func(t *testing.T) {
		result := m.Mask(`apiVersion: v1
kind: Secret
metadata:
  name: test-fake-string-secret
stringData:
  username: FAKE-user-not-real
  password: FAKE-pass-not-real
`)
		assert.Contains(t, result, MaskedSecretValue)
		assert.NotContains(t, result, "FAKE-user-not-real")
		assert.NotContains(t, result, "FAKE-pass-not-real")
	})

	t.Run("no data fields is fine", func(t *testing.T) {
		result := m.Mask("apiVersion: v1\nkind: Secret\nmetadata:\n  name: no-data-secret\ntype: Opaque\n")
		assert.Contains(t, result, "kind: Secret")
	})
}

func TestKubernetesSecretMasker_AnnotationWithEmbeddedSecret(t *testing.T) {
	m := &KubernetesSecretMasker{}
	embedded := `{"apiVersion":"v1","kind":"Secret","data":{"password":"RkFLRS1wd2Q="}}`
	input := `apiVersion: v1
kind: Secret
metadata:
  name: test-fake-annotated-secret
  annotations:
    kubectl.kubernetes.io/last-applied-configuration: '` + embedded + `'
data:
  password: RkFLRS1wd2Q=
`
	result := m.Mask(input)

	assert.Contains(t, result, MaskedSecretValue)
	// Both the data section and the copy embedded in the annotation are masked.
	assert.NotContains(t, result, "RkFLRS1wd2Q=")
	assert.NotContains(t, result, `"password":"RkFLRS1wd2Q="`)
}

func TestKubernetesSecretMasker_SecretLists(t *testing.T) {
	m := &KubernetesSecretMasker{}

	t.Run("JSON list masks every item", func(t *testing.T) {
		input := `{
  "apiVersion": "v1",
  "kind": "SecretList",
  "items": [
    {"apiVersion": "v1", "kind": "Secret", "metadata": {"name": "test-fake-secret-1"}, "data": {"key1": "RkFLRS12YWwx"}},
    {"apiVersion": "v1", "kind": "Secret", "metadata": {"name": "test-fake-secret-2"}, "data": {"key2": "RkFLRS12YWwy"}}
  ]
}`
		result := m.Mask(input)
		require.NotEqual(t, input, result)
		assert.NotContains(t, result, "RkFLRS12YWwx")
		assert.NotContains(t, result, "RkFLRS12YWwy")

		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(result), &parsed))
		items := parsed["items"].([]any)
		require.Len(t, items, 2)
		for i, item := range items {
			assert.Equal(t, MaskedSecretValue, item.(map[string]any)["data"], "item %d", i)
		}
	})

	t.Run("YAML list masks every item", func(t *testing.T) {
		input := `apiVersion: v1
kind: SecretList
items:
  - apiVersion: v1
    kind: Secret
    metadata:
      name: test-fake-secret-a
    data:
      key: RkFLRS1rZXlB
  - apiVersion: v1
    kind: Secret
    metadata:
      name: test-fake-secret-b
    data:
      key: RkFLRS1rZXlC
`
		result := m.Mask(input)
		require.NotEqual(t, input, result)
		assert.NotContains(t, result, "RkFLRS1rZXlB")
		assert.NotContains(t, result, "RkFLRS1rZXlC")
		assert.Contains(t, result, MaskedSecretValue)
	})

	t.Run("annotations on list items masked", func(t *testing.T) {
		// SecretList items must flow through the list path so each item's
		// annotations get the same treatment as a standalone Secret.
		input := `{
  "apiVersion": "v1",
  "kind": "SecretList",
  "items": [
    {
      "apiVersion": "v1",
      "kind": "Secret",
      "metadata": {
        "name": "test-fake-annotated",
        "annotations": {
          "kubectl.kubernetes.io/last-applied-configuration": "{\"apiVersion\":\"v1\",\"kind\":\"Secret\",\"data\":{\"pw\":\"RkFLRS1wd2Q=\"}}"
        }
      },
      "data": {"token": "RkFLRS10b2tlbg=="}
    }
  ]
}`
		result := m.Mask(input)
		require.NotEqual(t, input, result)
		assert.NotContains(t, result, "RkFLRS10b2tlbg==")
		assert.NotContains(t, result, "RkFLRS1wd2Q=")
		assert.Contains(t, result, MaskedSecretValue)
	})
}

func TestKubernetesSecretMasker_PreservesNonSecretContent(t *testing.T) {
	m := &KubernetesSecretMasker{}
	result := m.Mask(`apiVersion: v1
kind: Secret
metadata:
  name: test-fake-labeled-secret
  namespace: default
  labels:
    app: myapp
    tier: backend
type: Opaque
data:
  password: RkFLRS1wYXNz
`)

	for _, kept := range []string{"app: myapp", "tier: backend", "namespace: default", "type: Opaque"} {
		assert.Contains(t, result, kept)
	}
	assert.NotContains(t, result, "RkFLRS1wYXNz")
	assert.Contains(t, result, MaskedSecretValue)
}

func TestKubernetesSecretMasker_JSONOutputStaysValid(t *testing.T) {
	m := &KubernetesSecretMasker{}
	input := `{"apiVersion":"v1","kind":"Secret","data":{"pw":"RkFLRS1wdw=="}}`

	result := m.Mask(input)

	require.NotEqual(t, input, result)
	assert.Contains(t, result, MaskedSecretValue)
	assert.NotContains(t, result, "RkFLRS1wdw==")

	var parsed map[string]any
	assert.NoError(t, json.Unmarshal([]byte(result), &parsed))
}

func TestResourceKindClassification(t *testing.T) {
	secrets := map[string]bool{
		"Secret":        true,
		"SecretList":    false, // lists take the list path, not the secret path
		"ConfigMap":     false,
		"Pod":           false,
		"SecretBinding": false,
	}
	for kind, want := range secrets {
		assert.Equal(t, want, isKubernetesSecret(map[string]any{"kind": kind}), "isKubernetesSecret(%s)", kind)
	}
	assert.False(t, isKubernetesSecret(map[string]any{"apiVersion": "v1"}))

	lists := map[string]bool{
		"List":          true,
		"SecretList":    true,
		"ConfigMapList": true,
		"Secret":        false,
	}
	for kind, want := range lists {
		assert.Equal(t, want, isKubernetesList(map[string]any{"kind": kind}), "isKubernetesList(%s)", kind)
	}
	assert.False(t, isKubernetesList(map[string]any{}))
}

func TestMaskSecretFields(t *testing.T) {
	resource := map[string]any{
		"kind": "Secret",
		"data": map[string]any{
			"username": "RkFLRS11c2Vy",
			"password": "RkFLRS1wYXNz",
		},
		"stringData": map[string]any{
			"api-key": "FAKE-key-not-real",
		},
	}

	maskSecretFields(resource)

	assert.Equal(t, MaskedSecretValue, resource["data"])
	assert.Equal(t, MaskedSecretValue, resource["stringData"])
}

func TestMaskAnnotationSecrets(t *testing.T) {
	t.Run("embedded JSON Secret masked", func(t *testing.T) {
		resource := map[string]any{
			"kind": "Secret",
			"metadata": map[string]any{
				"name": "test",
				"annotations": map[string]any{
					"kubectl.kubernetes.io/last-applied-configuration": `{"kind":"Secret","data":{"pw":"RkFLRS1wd2Q="}}`,
				},
			},
		}

		maskAnnotationSecrets(resource)

		annotations := resource["metadata"].(map[string]any)["annotations"].(map[string]any)
		val := annotations["kubectl.kubernetes.io/last-applied-configuration"].(string)
		assert.NotContains(t, val, "RkFLRS1wd2Q=")
		assert.Contains(t, val, MaskedSecretValue)
	})

	t.Run("non-Secret embedded resources untouched", func(t *testing.T) {
		resource := map[string]any{
			"kind": "ConfigMap",
			"metadata": map[string]any{
				"annotations": map[string]any{
					"some-annotation": `{"kind":"ConfigMap","data":{"key":"value"}}`,
				},
			},
		}

		maskAnnotationSecrets(resource)

		annotations := resource["metadata"].(map[string]any)["annotations"].(map[string]any)
		assert.Contains(t, annotations["some-annotation"].(string), "value")
	})

	t.Run("plain-text annotations untouched", func(t *testing.T) {
		resource := map[string]any{
			"kind": "Secret",
			"metadata": map[string]any{
				"annotations": map[string]any{
					"description": "Contains Secret info but is not JSON",
				},
			},
		}

		maskAnnotationSecrets(resource)

		annotations := resource["metadata"].(map[string]any)["annotations"].(map[string]any)
		assert.Equal(t, "Contains Secret info but is not JSON", annotations["description"])
	})
}
