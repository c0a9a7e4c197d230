package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenCounterCount(t *testing.T) {
	t.Parallel()

	c := NewTokenCounter("")
	require.Zero(t, c.Count(""))
	require.Greater(t, c.Count("hello world"), 0)

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	short := "the quick brown fox"
	require.Greater(t, c.Count(long), c.Count(short))
}

func TestTokenCounterHead(t *testing.T) {
	t.Parallel()

	c := NewTokenCounter("")
	text := strings.Repeat("incident review notes with plenty of detail ", 40)

	require.Empty(t, c.Head(text, 0))
	require.Empty(t, c.Head(text, -3))
	require.Equal(t, text, c.Head(text, 100000))

	head := c.Head(text, 20)
	require.LessOrEqual(t, c.Count(head), 20)
	require.True(t, strings.HasPrefix(text, head))
}
