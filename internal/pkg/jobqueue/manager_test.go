package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestManagerStopKeepsStopChannel verifies that Stop leaves the closed stop
// channel in place. A worker that reads the field after Stop must see a
// closed channel, not nil: a receive on a nil channel blocks forever and
// would hang the shutdown path.
func TestManagerStopKeepsStopChannel(t *testing.T) {
	m := &Manager{
		queue:  NewQueue(1, Processors{}),
		stopCh: make(chan struct{}),
	}
	m.running = true

	m.Stop()

	require.NotNil(t, m.stopCh)
	select {
	case <-m.stopCh:
		// closed as expected
	default:
		t.Fatal("stop channel must be closed after Stop")
	}
	assert.False(t, m.IsRunning())

	// A second Stop on a stopped manager is a no-op.
	m.Stop()
}
