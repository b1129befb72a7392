package freeze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFreezeMonotonicity(t *testing.T) {
	t.Parallel()

	var changes []State
	m := New(time.Now(), time.Now().Add(time.Hour), func(s State) { changes = append(changes, s) })

	assert.Equal(t, NotInFreeze, m.State())
	assert.Equal(t, Create, m.ShouldCreateEvent())

	m.FreezeStarted()
	assert.Equal(t, InFreeze, m.State())
	assert.Equal(t, DontCreate, m.ShouldCreateEvent())
	assert.True(t, m.ShouldSync())

	m.FreezeComplete()
	assert.Equal(t, FreezeComplete, m.State())
	assert.Equal(t, DontCreate, m.ShouldCreateEvent())

	assert.Equal(t, []State{InFreeze, FreezeComplete}, changes)
}

func TestFreezeOutOfOrderTransitionIsFatal(t *testing.T) {
	t.Parallel()

	m := New(time.Now(), time.Now().Add(time.Hour), nil)

	var gotErr error
	m.SetFatalHandler(func(err error) { gotErr = err })

	// FreezeComplete before FreezeStarted is out-of-order.
	m.FreezeComplete()

	assert.Error(t, gotErr)
	assert.Equal(t, NotInFreeze, m.State()) // the invalid transition did not take effect

	// Going NOT_IN_FREEZE -> IN_FREEZE -> IN_FREEZE again is also invalid.
	m.FreezeStarted()
	gotErr = nil
	m.FreezeStarted()
	assert.Error(t, gotErr)
	assert.Equal(t, InFreeze, m.State())
}
