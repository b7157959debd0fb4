package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetInsertReportsNewMembers(t *testing.T) {
	var s Set[string]

	assert.True(t, s.Insert("reserve"))
	assert.True(t, s.Insert("charge"))
	assert.False(t, s.Insert("reserve"))

	assert.True(t, s.Contains("charge"))
	assert.False(t, s.Contains("fulfill"))
	assert.Equal(t, 2, s.Len())
}

func TestNewSeedsItems(t *testing.T) {
	s := New(1, 2, 2, 3)

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(3))
}
