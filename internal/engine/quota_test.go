package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_PerClient(t *testing.T) {
	q := NewQuotaEnforcer(2)
	require.NoError(t, q.Check("a"))
	require.NoError(t, q.Check("a"))
	require.NoError(t, q.Check("b"), "quota is per client")

	err := q.Check("a")
	require.Error(t, err)
	assert.True(t, IsRequestsExceededError(err))
	assert.Equal(t, "client a exceeded 2 requests per cycle", err.Error())
	assert.Equal(t, 2, q.Current("a"))
}

func TestQuotaEnforcer_Reset(t *testing.T) {
	q := NewQuotaEnforcer(1)
	require.NoError(t, q.Check("a"))
	require.Error(t, q.Check("a"))

	q.Reset()
	assert.Zero(t, q.Current("a"))
	assert.NoError(t, q.Check("a"))
}

func TestQuotaEnforcer_Disabled(t *testing.T) {
	q := NewQuotaEnforcer(0)
	for range 1000 {
		require.NoError(t, q.Check("a"))
	}
	assert.Zero(t, q.MaxRequests())
}

func TestIsRequestsExceededError_Wrapped(t *testing.T) {
	err := fmt.Errorf("step: %w", &RequestsExceededError{Client: "a", Limit: 1})
	assert.True(t, IsRequestsExceededError(err))
	assert.False(t, IsRequestsExceededError(fmt.Errorf("other")))
}
