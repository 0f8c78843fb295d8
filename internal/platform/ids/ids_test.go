package ids

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsOrderedAndPrefixed(t *testing.T) {
	got := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		got = append(got, New("ord"))
	}
	require.True(t, sort.StringsAreSorted(got))
	for _, id := range got {
		require.True(t, HasPrefix(id, "ord"), id)
		require.False(t, HasPrefix(id, "or"), id)
	}
}
