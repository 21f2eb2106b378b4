package clientpool

import (
	"testing"
	"time"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/transport"
	"github.com/stretchr/testify/assert"
)

func TestBorrowCreatesLazily(t *testing.T) {
	calls := 0
	pool := New(Config{NewClient: func(endpoint string) *transport.Client {
		calls++
		return transport.New(endpoint)
	}})

	c1 := pool.Borrow("http://a")
	c2 := pool.Borrow("http://a")
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls)

	pool.Borrow("http://b")
	assert.Equal(t, 2, calls)
}

func TestRecycleOnConsecutiveFailures(t *testing.T) {
	calls := 0
	pool := New(Config{
		FailureThreshold: 2,
		NewClient: func(endpoint string) *transport.Client {
			calls++
			return transport.New(endpoint)
		},
	})

	c1 := pool.Borrow("http://a")
	pool.Release("http://a", c1, Failure)
	pool.Release("http://a", c1, Failure)

	c2 := pool.Borrow("http://a")
	assert.NotSame(t, c1, c2)
	assert.Equal(t, 2, calls)
}

func TestRecycleOnAge(t *testing.T) {
	pool := New(Config{MaxAge: time.Millisecond})
	c1 := pool.Borrow("http://a")
	time.Sleep(5 * time.Millisecond)
	c2 := pool.Borrow("http://a")
	assert.NotSame(t, c1, c2)
}

func TestSuccessRateRecycle(t *testing.T) {
	pool := New(Config{SuccessRateWindow: 4, MinSuccessRate: 0.5})
	c1 := pool.Borrow("http://a")
	pool.Release("http://a", c1, Success)
	pool.Release("http://a", c1, Failure)
	pool.Release("http://a", c1, Failure)
	pool.Release("http://a", c1, Failure)

	c2 := pool.Borrow("http://a")
	assert.NotSame(t, c1, c2)
}
