package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeatKey(t *testing.T) {
	assert.Equal(t, "lock:seat:42", SeatKey(42))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 30*time.Second, opts.TTL)
	assert.Equal(t, 100*time.Millisecond, opts.RetryDelay)
	assert.Equal(t, 5*time.Second, opts.MaxWait)
}

func TestNewManager_FillsZeroOptions(t *testing.T) {
	m := NewManager(nil, Options{})
	assert.Equal(t, DefaultOptions(), m.opts)

	m = NewManager(nil, Options{TTL: time.Minute})
	assert.Equal(t, time.Minute, m.opts.TTL)
	assert.Equal(t, DefaultOptions().RetryDelay, m.opts.RetryDelay)
}

func TestMultiLeaseKeys(t *testing.T) {
	multi := &MultiLease{Leases: []*Lease{
		{Key: "lock:seat:1", Token: "a"},
		{Key: "lock:seat:2", Token: "b"},
	}}
	assert.Equal(t, []string{"lock:seat:1", "lock:seat:2"}, multi.Keys())
	assert.Empty(t, (&MultiLease{}).Keys())
}
