package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(ms []Middleware) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

func TestChain_InsertionOrder(t *testing.T) {
	chain := NewChain()
	require.NoError(t, chain.Add("auth", "a"))
	require.NoError(t, chain.Add("cors", "c"))
	require.NoError(t, chain.Add("auth", "a2"))

	assert.Equal(t, []string{"auth", "cors", "auth"}, names(chain.Snapshot()))
	assert.Equal(t, 3, chain.Len())
}

func TestChain_RemoveAllMatches(t *testing.T) {
	chain := NewChain()
	require.NoError(t, chain.Add("auth", "a"))
	require.NoError(t, chain.Add("cors", "c"))
	require.NoError(t, chain.Add("auth", "a2"))

	n, err := chain.Remove("auth")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"cors"}, names(chain.Snapshot()))

	n, err = chain.Remove("missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChain_SnapshotIsStable(t *testing.T) {
	chain := NewChain()
	require.NoError(t, chain.Add("one", "1"))
	snap := chain.Snapshot()

	require.NoError(t, chain.Add("two", "2"))
	_, err := chain.Remove("one")
	require.NoError(t, err)

	assert.Equal(t, []string{"one"}, names(snap))
	assert.Equal(t, []string{"two"}, names(chain.Snapshot()))
}

func TestChain_Validation(t *testing.T) {
	chain := NewChain()
	var verr *ValidationError
	assert.ErrorAs(t, chain.Add("", "body"), &verr)
	assert.ErrorAs(t, chain.Add("name", ""), &verr)
	_, err := chain.Remove(" ")
	assert.ErrorAs(t, err, &verr)
	assert.Zero(t, chain.Len())
}

func TestChain_ConcurrentAccess(t *testing.T) {
	chain := NewChain()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = chain.Add("m", "body")
			_, _ = chain.Remove("m")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, m := range chain.Snapshot() {
				assert.Equal(t, "m", m.Name)
			}
		}
	}()
	wg.Wait()
}
