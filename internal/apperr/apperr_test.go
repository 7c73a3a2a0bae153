package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("assign worker: %w", Precondition("zone_not_active", "zone %q is QUEUED", "z1"))
	assert.True(t, IsPrecondition(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, "zone_not_active", ReasonOf(err))
	assert.Equal(t, `assign worker: zone "z1" is QUEUED`, err.Error())
}

func TestWrapConflictKeepsCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: nodes.zone_id, nodes.address")
	err := WrapConflict(cause, "node %s", "10.0.1.2")
	assert.True(t, IsConflict(err))
	assert.Equal(t, "unique", ReasonOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "node 10.0.1.2: UNIQUE")

	assert.Equal(t, "conflict", ReasonOf(Conflict("hostname taken")))
}

func TestUnclassified(t *testing.T) {
	err := errors.New("disk full")
	assert.Equal(t, Class(0), ClassOf(err))
	assert.Empty(t, ReasonOf(err))
	assert.Equal(t, "unknown", ClassOf(err).String())
	assert.Equal(t, "forbidden", ClassOf(Forbidden("bob", "acme")).String())
	assert.Equal(t, "not_found", ClassOf(NotFound("zone", "z1")).String())
}
