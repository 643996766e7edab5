package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("rooms:1")
	assert.False(t, ok)

	s.Set("rooms:1", []byte(`[{"id":7}]`))
	data, ok := s.Get("rooms:1")
	require.True(t, ok)
	assert.Equal(t, `[{"id":7}]`, string(data))

	// stored blob is isolated from caller mutation
	data[0] = 'x'
	again, _ := s.Get("rooms:1")
	assert.Equal(t, `[{"id":7}]`, string(again))

	s.Clear("rooms:1")
	_, ok = s.Get("rooms:1")
	assert.False(t, ok)

	// clearing an absent name is a no-op
	s.Clear("rooms:1")
}
