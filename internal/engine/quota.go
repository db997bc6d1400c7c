package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/pondoc/internal/channel"
)

// QuotaEnforcer caps how many request lines each client gets handled
// per cycle. Lines over the cap wait for the next cycle in order, so a
// chatty client cannot stall frame delivery for everyone else.
type QuotaEnforcer struct {
	maxRequests int
	current     map[channel.ClientID]int
}

// NewQuotaEnforcer creates an enforcer allowing maxRequests lines per
// client per cycle. A limit of zero or less disables it.
func NewQuotaEnforcer(maxRequests int) *QuotaEnforcer {
	return &QuotaEnforcer{
		maxRequests: maxRequests,
		current:     make(map[channel.ClientID]int),
	}
}

// Check counts one line for client. Returns RequestsExceededError once
// the client is over its quota for this cycle.
func (q *QuotaEnforcer) Check(client channel.ClientID) error {
	if q.maxRequests <= 0 {
		return nil
	}
	if q.current[client] >= q.maxRequests {
		return &RequestsExceededError{Client: client, Limit: q.maxRequests}
	}
	q.current[client]++
	return nil
}

// Reset starts a new cycle.
func (q *QuotaEnforcer) Reset() {
	clear(q.current)
}

// Current returns the lines counted for client this cycle.
func (q *QuotaEnforcer) Current(client channel.ClientID) int {
	return q.current[client]
}

// MaxRequests returns the per-cycle limit.
func (q *QuotaEnforcer) MaxRequests() int {
	return q.maxRequests
}

// RequestsExceededError reports a client over its per-cycle quota.
type RequestsExceededError struct {
	Client channel.ClientID
	Limit  int
}

func (e *RequestsExceededError) Error() string {
	return fmt.Sprintf("client %s exceeded %d requests per cycle", e.Client, e.Limit)
}

// IsRequestsExceededError returns true if err is a RequestsExceededError.
func IsRequestsExceededError(err error) bool {
	var re *RequestsExceededError
	return errors.As(err, &re)
}
