package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAndGet(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("1001")
	assert.False(t, ok)

	s.Begin("1001", 42)
	st, ok := s.Get("1001")
	require.True(t, ok)
	assert.Equal(t, AwaitingDevice, st.Phase)
	assert.Equal(t, int64(42), st.ChatID)
	assert.False(t, st.StartedAt.IsZero())
	assert.Equal(t, 1, s.Len())
}

func TestAdvance_FullFlow(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)

	err := s.Advance("1001", AwaitingDevice, AwaitingScript, func(st *State) {
		st.Device = "office-gw"
	})
	require.NoError(t, err)

	err = s.Advance("1001", AwaitingScript, AwaitingPassword, func(st *State) {
		st.Script = "reboot"
		st.MessageID = 7
	})
	require.NoError(t, err)

	st, ok := s.Get("1001")
	require.True(t, ok)
	assert.Equal(t, AwaitingPassword, st.Phase)
	assert.Equal(t, "office-gw", st.Device)
	assert.Equal(t, "reboot", st.Script)
	assert.Equal(t, 7, st.MessageID)
}

func TestAdvance_NoSession(t *testing.T) {
	s := NewStore()

	err := s.Advance("1001", AwaitingDevice, AwaitingScript, nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAdvance_WrongPhase(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)

	// Script selection while still awaiting a device.
	err := s.Advance("1001", AwaitingScript, AwaitingPassword, func(st *State) {
		st.Script = "reboot"
	})
	assert.ErrorIs(t, err, ErrWrongPhase)

	// Phase and fields unchanged after the rejected transition.
	st, ok := s.Get("1001")
	require.True(t, ok)
	assert.Equal(t, AwaitingDevice, st.Phase)
	assert.Empty(t, st.Script)
}

func TestAdvance_NoSkippingPhases(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)

	err := s.Advance("1001", AwaitingDevice, AwaitingPassword, nil)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestAdvance_Concurrent(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)

	// Two racing device selections: exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Advance("1001", AwaitingDevice, AwaitingScript, func(st *State) {
				st.Device = "office-gw"
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrWrongPhase)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestTake_ClaimsAndRemoves(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)
	require.NoError(t, s.Advance("1001", AwaitingDevice, AwaitingScript, func(st *State) {
		st.Device = "office-gw"
	}))
	require.NoError(t, s.Advance("1001", AwaitingScript, AwaitingPassword, func(st *State) {
		st.Script = "reboot"
	}))

	st, ok := s.Take("1001", AwaitingPassword)
	require.True(t, ok)
	assert.Equal(t, "office-gw", st.Device)
	assert.Equal(t, "reboot", st.Script)

	// The claim removed the session; a duplicate claim finds nothing.
	_, ok = s.Take("1001", AwaitingPassword)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestTake_WrongPhaseLeavesSession(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)

	_, ok := s.Take("1001", AwaitingPassword)
	assert.False(t, ok)

	st, live := s.Get("1001")
	require.True(t, live)
	assert.Equal(t, AwaitingDevice, st.Phase)
}

func TestTake_Concurrent(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)
	require.NoError(t, s.Advance("1001", AwaitingDevice, AwaitingScript, nil))
	require.NoError(t, s.Advance("1001", AwaitingScript, AwaitingPassword, nil))

	// Two racing claims: exactly one may win.
	var wg sync.WaitGroup
	wins := make([]bool, 2)
	for i := range wins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, wins[i] = s.Take("1001", AwaitingPassword)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)
	s.Begin("1002", 43)

	s.Clear("1001")
	_, ok := s.Get("1001")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	// Clearing twice is harmless.
	s.Clear("1001")
}

func TestBegin_ResetsExistingFlow(t *testing.T) {
	s := NewStore()
	s.Begin("1001", 42)
	require.NoError(t, s.Advance("1001", AwaitingDevice, AwaitingScript, func(st *State) {
		st.Device = "office-gw"
	}))

	s.Begin("1001", 42)
	st, ok := s.Get("1001")
	require.True(t, ok)
	assert.Equal(t, AwaitingDevice, st.Phase)
	assert.Empty(t, st.Device)
}
