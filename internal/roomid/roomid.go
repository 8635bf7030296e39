package roomid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var lists = [][]string{colors, moods, trees, birds, places}

// DefaultWords is the number of words in a generated room ID.
const DefaultWords = 4

// New returns a memorable room ID such as "calm-heron-cedar-cove".
func New() (string, error) {
	return Generate(DefaultWords, nil)
}

// Generate builds an ID of n words, each from a different list, retrying
// while taken reports the ID as in use. taken may be nil.
func Generate(n int, taken func(string) bool) (string, error) {
	if n < 1 || n > len(lists) {
		return "", fmt.Errorf("room ID must have between 1 and %d words, got %d", len(lists), n)
	}

	for {
		order, err := permutation(len(lists))
		if err != nil {
			return "", err
		}

		words := make([]string, n)
		for i := range words {
			list := lists[order[i]]
			idx, err := randomIndex(len(list))
			if err != nil {
				return "", err
			}
			words[i] = list[idx]
		}

		id := strings.Join(words, "-")
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
}

// permutation returns a random ordering of 0..n-1.
func permutation(n int) ([]int, error) {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return nil, err
		}
		p[i], p[j] = p[j], p[i]
	}
	return p, nil
}

// randomIndex returns a cryptographically secure index below max.
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generate random index: %w", err)
	}
	return int(n.Int64()), nil
}
