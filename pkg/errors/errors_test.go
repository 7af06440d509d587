package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	cause := errors.New("boom")
	e := SpawnFailure("spawn", cause)
	assert.Equal(t, "spawn_failure: spawn: boom", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	e := StoreFailure("upsert", cause)
	assert.ErrorIs(t, e, cause)
}

func TestIs(t *testing.T) {
	e := PidReuse("find", errors.New("mismatch"))
	assert.True(t, Is(e, KindPidReuse))
	assert.False(t, Is(e, KindValidation))
	assert.False(t, Is(errors.New("plain"), KindPidReuse))
}
