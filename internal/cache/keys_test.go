package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandKeyVariables(t *testing.T) {
	vars := KeyVars{Pipeline: "niworkflows", Branch: "main", Tag: "", Job: "build"}

	tests := []struct {
		key  string
		want string
	}{
		{"v1-deps", "v1-deps"},
		{"v1-{{ branch }}", "v1-main"},
		{"v1-{{branch}}", "v1-main"},
		{"{{ pipeline }}-{{ job }}-{{ branch }}", "niworkflows-build-main"},
		{"v1-{{ tag }}-x", "v1--x"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ExpandKey(tt.key, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandKeyChecksum(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.sum"), []byte("lockfile v1"), 0o644))

	vars := KeyVars{Branch: "main", Root: root}

	a, err := ExpandKey("v1-{{ checksum:go.sum }}", vars)
	require.NoError(t, err)
	assert.NotEqual(t, "v1-", a)
	assert.Len(t, a, len("v1-")+16)

	// Same content, same key.
	b, err := ExpandKey("v1-{{ checksum:go.sum }}", vars)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Changed content, changed key.
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.sum"), []byte("lockfile v2"), 0o644))
	c, err := ExpandKey("v1-{{ checksum:go.sum }}", vars)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestExpandKeyErrors(t *testing.T) {
	_, err := ExpandKey("v1-{{ widget }}", KeyVars{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache key variable")

	_, err = ExpandKey("v1-{{ checksum:missing.txt }}", KeyVars{Root: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestExpandKeysPreservesOrder(t *testing.T) {
	vars := KeyVars{Branch: "dev"}
	got, err := ExpandKeys([]string{"v1-{{ branch }}-x", "v1-{{ branch }}-", "v1-"}, vars)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-dev-x", "v1-dev-", "v1-"}, got)
}

func TestKeyHashStable(t *testing.T) {
	assert.Equal(t, keyHash("v1-x"), keyHash("v1-x"))
	assert.NotEqual(t, keyHash("v1-x"), keyHash("v1-y"))
	assert.Len(t, keyHash("v1-x"), 32)
}
