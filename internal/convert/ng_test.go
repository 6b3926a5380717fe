package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group", NGFile)

	changed, err := MergeNG(path, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = MergeNG(path, []int{9, 3, 9})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = MergeNG(path, []int{3})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = MergeNG(path, []int{5})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3\n5\n9\n", string(data))

	ids, err := ReadNG(path)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 9}, ids)
}
