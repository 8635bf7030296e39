package roomid

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listOf(word string) int {
	for i, list := range lists {
		if slices.Contains(list, word) {
			return i
		}
	}
	return -1
}

func TestNew(t *testing.T) {
	for range 50 {
		id, err := New()
		require.NoError(t, err)

		words := strings.Split(id, "-")
		require.Len(t, words, DefaultWords)

		seen := map[int]bool{}
		for _, w := range words {
			idx := listOf(w)
			require.NotEqual(t, -1, idx, "unknown word %q", w)
			assert.False(t, seen[idx], "two words from the same list in %q", id)
			seen[idx] = true
		}
	}
}

func TestGenerateSkipsTakenIDs(t *testing.T) {
	var tried []string
	id, err := Generate(2, func(candidate string) bool {
		tried = append(tried, candidate)
		return len(tried) < 3
	})
	require.NoError(t, err)
	assert.Len(t, tried, 3)
	assert.Equal(t, tried[2], id)
}

func TestGenerateRejectsBadLength(t *testing.T) {
	_, err := Generate(0, nil)
	assert.Error(t, err)
	_, err = Generate(len(lists)+1, nil)
	assert.Error(t, err)
}

func TestWordListsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, list := range lists {
		for _, w := range list {
			assert.False(t, seen[w], "duplicate word %q", w)
			assert.NotContains(t, w, "-")
			seen[w] = true
		}
	}
}
