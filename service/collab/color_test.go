package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserColorDeterministic(t *testing.T) {
	a := UserColor("alice")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, UserColor("alice"))
	}
}

func TestUserColorFromPalette(t *testing.T) {
	for _, id := range []string{"alice", "bob", "carol", "", "a-very-long-user-id"} {
		assert.Contains(t, palette, UserColor(id))
	}
}
