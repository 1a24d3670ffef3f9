package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replay feeds a sequence of outcomes ('F' failure, 'S' success) into b and
// returns the state after each step plus every transition seen.
func replay(t *testing.T, b *Breaker, outcomes string) (states []State, opened, closed int) {
	t.Helper()
	for _, o := range outcomes {
		var change StateChange
		switch o {
		case 'F':
			_, change = b.RecordFailure()
		case 'S':
			_, change = b.RecordSuccess()
		default:
			require.Failf(t, "bad outcome", "%q", o)
		}
		if change.Opened {
			opened++
		}
		if change.Closed {
			closed++
		}
		states = append(states, b.State())
	}
	return states, opened, closed
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  string
		final     State
		opened    int
		closed    int
	}{
		{name: "stays closed below threshold", failures: 3, successes: 2, outcomes: "FF", final: StateClosed},
		{name: "opens at threshold", failures: 3, successes: 2, outcomes: "FFF", final: StateOpen, opened: 1},
		{name: "success resets failure streak", failures: 3, successes: 2, outcomes: "FFSFF", final: StateClosed},
		{name: "further failures while open do not reopen", failures: 1, successes: 2, outcomes: "FFFF", final: StateOpen, opened: 1},
		{name: "closes after success streak", failures: 1, successes: 2, outcomes: "FSS", final: StateClosed, opened: 1, closed: 1},
		{name: "failure while open restarts success streak", failures: 1, successes: 3, outcomes: "FSSFSS", final: StateOpen, opened: 1},
		{name: "full outage and recovery twice", failures: 2, successes: 1, outcomes: "FFSFFS", final: StateClosed, opened: 2, closed: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("counter-store", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))

			states, opened, closed := replay(t, b, tt.outcomes)

			assert.Equal(t, tt.final, states[len(states)-1])
			assert.Equal(t, tt.opened, opened, "open transitions")
			assert.Equal(t, tt.closed, closed, "close transitions")
		})
	}
}

func TestFallbackSignal(t *testing.T) {
	b := New("counter-store", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback, "a single failure is retried on the primary")

	useFallback, _ = b.RecordFailure()
	assert.True(t, useFallback)

	trusted, change := b.RecordSuccess()
	assert.True(t, trusted)
	assert.True(t, change.Closed)
}

func TestDefaults(t *testing.T) {
	b := New("counter-store", WithFailureThreshold(0), WithSuccessThreshold(-1))

	assert.Equal(t, "counter-store", b.Name())
	assert.Equal(t, "closed", b.State().String())

	states, _, _ := replay(t, b, "FFFF")
	assert.Equal(t, StateClosed, states[3], "non-positive options keep the default of five")
	_, opened, _ := replay(t, b, "F")
	assert.Equal(t, 1, opened)
	assert.Equal(t, "open", b.State().String())

	_, _, closed := replay(t, b, "SSS")
	assert.Equal(t, 1, closed, "three successes close by default")
}

func TestConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("counter-store", WithFailureThreshold(5))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
