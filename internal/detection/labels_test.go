package detection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabels(t *testing.T) {
	labels := DefaultLabels()
	assert.Equal(t, 6, labels.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, labels.IDs())
	assert.Equal(t, "AK-47", labels.Name(0))
	assert.Equal(t, "T-72", labels.Name(5))
	assert.Equal(t, UnknownClass, labels.Name(6))
	assert.Equal(t, UnknownClass, labels.Name(-1))
}

func TestNewLabelTableCopiesInput(t *testing.T) {
	names := map[int]string{0: "pistol"}
	labels := NewLabelTable(names)
	names[0] = "changed"
	assert.Equal(t, "pistol", labels.Name(0))
}

func writeLabels(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels(writeLabels(t, "classes:\n  0: Glock\n  7: RPG-7\n"))
	require.NoError(t, err)
	assert.Equal(t, "Glock", labels.Name(0))
	assert.Equal(t, "RPG-7", labels.Name(7))
	assert.Equal(t, UnknownClass, labels.Name(1))
}

func TestLoadLabelsEmptyPath(t *testing.T) {
	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLabels(), labels)
}

func TestLoadLabelsErrors(t *testing.T) {
	cases := map[string]string{
		"empty":      "classes: {}\n",
		"blank name": "classes:\n  0: \"\"\n",
		"negative":   "classes:\n  -1: Ghost\n",
		"invalid":    "classes: [unclosed\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadLabels(writeLabels(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
