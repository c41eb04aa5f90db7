package errbuf

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferKeepsInsertionOrder(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("negotiate", fmt.Errorf("first")))
	require.NoError(t, b.Addf("launch", "second %d", 2))
	require.NoError(t, b.Add("launch", nil))

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "negotiate", entries[0].Stage)
	assert.Equal(t, "second 2", entries[1].Message)
	assert.NotEmpty(t, entries[1].Detail)
	assert.Equal(t, "negotiate: first; launch: second 2", b.Error())
}

func TestBufferSealRejectsAppend(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("", errors.New("boom")))

	sealed := b.Seal()
	assert.Same(t, b, sealed)
	assert.True(t, b.Sealed())
	assert.ErrorIs(t, b.Add("", errors.New("late")), ErrSealed)
	assert.Equal(t, 1, b.Len())
}

func TestBufferEntriesIsACopy(t *testing.T) {
	b := New()
	require.NoError(t, b.Add("", errors.New("boom")))

	entries := b.Entries()
	entries[0].Message = "changed"
	assert.Equal(t, "boom", b.Entries()[0].Message)
}

func TestBufferErrAndIs(t *testing.T) {
	b := New()
	assert.NoError(t, b.Err())

	require.NoError(t, b.Add("negotiate", errors.Wrap(context.DeadlineExceeded, "waiting for host")))
	err := b.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, b.Entries()[0].Detail, "waiting for host")
}

func TestNilBufferIsEmpty(t *testing.T) {
	var b *Buffer
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Entries())
}

func TestBufferConcurrentAdd(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Addf("worker", "entry %d", i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}
