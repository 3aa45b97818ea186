package id

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewPageID().String(), "page_"))
	assert.True(t, strings.HasPrefix(NewSessionID().String(), "sess_"))
	assert.True(t, strings.HasPrefix(NewInjectionID().String(), "inj_"))
	assert.True(t, strings.HasPrefix(New(TracePrefix), "trace_"))
	assert.NotEqual(t, NewPageID(), NewPageID())
}

func TestMonotonicWithinGenerator(t *testing.T) {
	g := NewGenerator(bytes.NewReader(bytes.Repeat([]byte{7}, 4096)))
	prev := g.Generate().String()
	for i := 0; i < 50; i++ {
		next := g.Generate().String()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewPageID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("page_not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := Default().WithPrefix("x")
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
