package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinForDisplay(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		expected string
	}{
		{name: "empty", names: nil, expected: ""},
		{name: "one", names: []string{"yay"}, expected: "yay"},
		{name: "two", names: []string{"yay", "paru"}, expected: "yay and paru"},
		{name: "three", names: []string{"yay", "paru", "pikaur"}, expected: "yay, paru and pikaur"},
		{name: "four", names: []string{"a", "b", "c", "d"}, expected: "a, b, c and d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinForDisplay(tt.names))
		})
	}
}

func TestPackageInfoJSONShape(t *testing.T) {
	info := PackageInfo{
		IsDependency: true,
		Dependencies: []string{"glibc-git"},
		Build:        &Build{Time: 1700000000, Files: []string{"foo-1.pkg.tar.zst"}},
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	// AUR-resolved packages must not carry a url key.
	assert.NotContains(t, string(data), `"url"`)
	assert.Contains(t, string(data), `"is_dependency":true`)

	var decoded PackageInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, info, decoded)
}
