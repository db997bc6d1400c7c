package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines_TakeReturnsOnlyNewLines(t *testing.T) {
	var l Lines
	assert.Nil(t, l.Take())

	l.Append([]string{"1 ok ()", "2 ok ()"})
	assert.Equal(t, []string{"1 ok ()", "2 ok ()"}, l.Take())
	assert.Nil(t, l.Take())

	l.Append([]string{"3 ok 4"})
	assert.Equal(t, []string{"3 ok 4"}, l.Take())
	assert.Equal(t, []string{"1 ok ()", "2 ok ()", "3 ok 4"}, l.All())
	assert.Equal(t, 3, l.Len())
}

func TestLines_ConcurrentAppend(t *testing.T) {
	var l Lines
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append([]string{fmt.Sprintf("%d ok ()", i)})
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.Take(), 10)
}

func TestSyncBuffer_Write(t *testing.T) {
	var b SyncBuffer
	n, err := b.Write([]byte("## READY"))
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "## READY", b.String())
}
