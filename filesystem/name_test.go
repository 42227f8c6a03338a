package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"//", "/"},
		{"/a", "/a"},
		{"/a/", "/a"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/b/..", "/a"},
		{"/a/b/../..", "/"},
		{`\a\b`, "/a/b"},
		{`/a\b/c`, "/a/b/c"},
		{"/a/b/c/./../d", "/a/b/d"},
	}
	for _, tc := range valid {
		got, err := Normalize(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}

	invalid := []string{"", "a/b", "relative", "/..", "/a/../.."}
	for _, in := range invalid {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidPath, "input %q", in)
	}
}

func TestParentBaseComponents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/a", Parent("/a/b"))
	assert.Equal(t, "/a/b", Parent("/a/b/c"))

	assert.Equal(t, "/", Base("/"))
	assert.Equal(t, "a", Base("/a"))
	assert.Equal(t, "c", Base("/a/b/c"))

	assert.Nil(t, Components("/"))
	assert.Equal(t, []string{"a"}, Components("/a"))
	assert.Equal(t, []string{"a", "b", "c"}, Components("/a/b/c"))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	got, err := Resolve("/a/b", "/c")
	require.NoError(t, err)
	assert.Equal(t, "/c", got, "absolute other wins")

	got, err = Resolve("/a/b", "c/d")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c/d", got)

	got, err = Resolve("/", "c")
	require.NoError(t, err)
	assert.Equal(t, "/c", got)

	got, err = Resolve("/a", "")
	require.NoError(t, err)
	assert.Equal(t, "/a", got)

	got, err = Resolve("/a", "../b")
	require.NoError(t, err)
	assert.Equal(t, "/b", got)
}

func TestRelativize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to, want string
	}{
		{"/a/b", "/a/b", ""},
		{"/a", "/a/b/c", "b/c"},
		{"/a/b/c", "/a", "../.."},
		{"/a/b", "/a/c", "../c"},
		{"/x", "/y/z", "../y/z"},
	}
	for _, tc := range cases {
		got, err := Relativize(tc.from, tc.to)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "from=%q to=%q", tc.from, tc.to)
	}
}

func TestStartsWithIsRawPrefix(t *testing.T) {
	t.Parallel()

	// Raw string prefixes, not component-wise matching.
	assert.True(t, StartsWith("/abc/def", "/abc"))
	assert.True(t, StartsWith("/abcdef", "/abc"))
	assert.False(t, StartsWith("/ab", "/abc"))
	assert.True(t, EndsWith("/a/b.txt", ".txt"))
}
