package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	name string
}

func (f *fakeHandle) Send(string, any) bool { return true }

func TestRegistry_SetOnlineLookup(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{name: "h1"}

	_, replaced := r.SetOnline("u1", h1)
	assert.False(t, replaced, "expected first connection not to replace anything")

	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, h1, got)

	_, ok = r.Lookup("u2")
	assert.False(t, ok, "expected unknown user to be absent")
}

func TestRegistry_LastConnectionWins(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{name: "h1"}
	h2 := &fakeHandle{name: "h2"}

	r.SetOnline("u1", h1)
	prev, replaced := r.SetOnline("u1", h2)
	assert.True(t, replaced)
	assert.Same(t, h1, prev)
	assert.Equal(t, 1, r.Len(), "expected at most one entry per user")

	got, _ := r.Lookup("u1")
	assert.Same(t, h2, got)
}

func TestRegistry_StaleDisconnect(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{name: "h1"}
	h2 := &fakeHandle{name: "h2"}

	r.SetOnline("u1", h1)
	r.SetOnline("u1", h2)

	assert.False(t, r.ClearOnline("u1", h1), "expected stale handle not to clear the entry")

	got, ok := r.Lookup("u1")
	require.True(t, ok, "expected user to remain online")
	assert.Same(t, h2, got)
}

func TestRegistry_ClearOnline(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{name: "h1"}

	r.SetOnline("u1", h1)
	assert.True(t, r.ClearOnline("u1", h1))

	_, ok := r.Lookup("u1")
	assert.False(t, ok, "expected lookup to be absent after the only connection disconnects")
	assert.False(t, r.ClearOnline("u1", h1), "expected second clear to be a no-op")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	handles := make([]*fakeHandle, 50)
	for i := range handles {
		handles[i] = &fakeHandle{name: fmt.Sprintf("h%d", i)}
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.SetOnline("u1", h)
			r.ClearOnline("u1", h)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 1)
}

func TestRegistry_LockUser(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.LockUser("u1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	unlockA := r.LockUser("a")
	unlockB := r.LockUser("b")
	unlockB()
	unlockA()

	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	assert.Empty(t, r.locks, "released locks are dropped")
}
