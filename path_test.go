package unpak

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "dir/file.txt", want: "dir/file.txt"},
		{name: "backslashes", input: `data\maps\level1.bsp`, want: "data/maps/level1.bsp"},
		{name: "mixed separators", input: `a\b/c\d`, want: "a/b/c/d"},
		{name: "parent traversal", input: "../../etc/passwd", want: "etc/passwd"},
		{name: "embedded traversal", input: "a/../../b", want: "a/b"},
		{name: "backslash traversal", input: `..\..\windows\system32`, want: "windows/system32"},
		{name: "absolute", input: "/etc/passwd", want: "etc/passwd"},
		{name: "drive letter", input: `C:\Windows\win.ini`, want: "Windows/win.ini"},
		{name: "drive relative", input: "d:file", want: "file"},
		{name: "rooted drive", input: "/C:/x", want: "x"},
		{name: "rooted backslash drive", input: `\\C:\Windows\win.ini`, want: "Windows/win.ini"},
		{name: "unc", input: `\\server\share\x`, want: "server/share/x"},
		{name: "dots and doubles", input: "./a//./b/", want: "a/b"},
		{name: "padded dotdot", input: "a/.. /b", want: "a/b"},
		{name: "nothing left", input: "../..", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SanitizePath(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizePathRejectsNUL(t *testing.T) {
	t.Parallel()

	_, err := SanitizePath("evil\x00.txt")
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestDestinationPath(t *testing.T) {
	t.Parallel()

	p, dir, err := destinationPath(3, "../..", false)
	require.NoError(t, err)
	assert.Equal(t, "unnamed_3", p)
	assert.False(t, dir)

	p, dir, err = destinationPath(0, `textures\`, false)
	require.NoError(t, err)
	assert.Equal(t, "textures", p)
	assert.True(t, dir)

	_, dir, err = destinationPath(0, "flagged", true)
	require.NoError(t, err)
	assert.True(t, dir)
}

func FuzzSanitizePath(f *testing.F) {
	for _, seed := range []string{"../../etc/passwd", `C:\x\..\y`, "a/./b", "", "\x00", `\\?\C:\x`} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, name string) {
		got, err := SanitizePath(name)
		if err != nil {
			return
		}
		if got == "" {
			return
		}
		assert.NotContains(t, got, `\`)
		assert.NotEqual(t, '/', rune(got[0]))
		for _, seg := range strings.Split(got, "/") {
			assert.NotEqual(t, "..", seg)
			assert.NotEqual(t, ".", seg)
			assert.NotEmpty(t, seg)
		}
	})
}
