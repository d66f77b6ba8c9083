package coop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoop_PendingInnerDoesNotCommitProgress(t *testing.T) {
	inner := OpFunc[int](func(cx *Cx) (int, bool) {
		return 0, false
	})
	c := Cooperative[int](inner)

	WithBudget(Finite(5), func() struct{} {
		v, ready := c.Poll(&Cx{})
		assert.False(t, ready)
		assert.Equal(t, 0, v)
		assert.Equal(t, Finite(5), currentBudget(t), "a Pending inner poll must not cost any budget")
		return struct{}{}
	})
}

func TestCoop_ReadyInnerCommitsOneUnit(t *testing.T) {
	inner := OpFunc[int](func(cx *Cx) (int, bool) {
		return 7, true
	})
	c := Cooperative[int](inner)

	WithBudget(Finite(5), func() struct{} {
		v, ready := c.Poll(&Cx{})
		require.True(t, ready)
		assert.Equal(t, 7, v)
		assert.Equal(t, Finite(4), currentBudget(t))
		return struct{}{}
	})
}

func TestCoop_ExhaustedBudgetNeverPollsInner(t *testing.T) {
	polled := false
	inner := OpFunc[int](func(cx *Cx) (int, bool) {
		polled = true
		return 1, true
	})
	c := Cooperative[int](inner)

	WithBudget(Finite(0), func() struct{} {
		_, ready := c.Poll(&Cx{})
		assert.False(t, ready)
		return struct{}{}
	})
	assert.False(t, polled, "Coop must not poll inner once its own budget is exhausted")
}

func TestUnconstrainedOp_NeverThrottled(t *testing.T) {
	calls := 0
	inner := OpFunc[int](func(cx *Cx) (int, bool) {
		calls++
		guard, ready := PollProceed(cx)
		require.True(t, ready)
		guard.MadeProgress()
		guard.Drop()
		return calls, true
	})
	u := RunUnconstrainedOp[int](inner)

	WithBudget(Finite(1), func() struct{} {
		for i := 0; i < 1000; i++ {
			_, ready := u.Poll(&Cx{})
			require.True(t, ready)
		}
		assert.Equal(t, Finite(1), currentBudget(t), "the outer finite budget must be unaffected")
		return struct{}{}
	})
	assert.Equal(t, 1000, calls)
}
