package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ProducesDistinctNonEmptyIDs(t *testing.T) {
	a := New()
	b := New()
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}
