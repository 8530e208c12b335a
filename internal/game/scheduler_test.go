// internal/game/scheduler_test.go
package game

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedulerRoom() *Room {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewRoom("TMRS", logger)
}

func TestDeadlineFires(t *testing.T) {
	room := newSchedulerRoom()
	var fired atomic.Bool

	room.Mu.Lock()
	room.scheduleDeadline(10*time.Millisecond, func() { fired.Store(true) })
	room.Mu.Unlock()

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestCancelledDeadlineNeverFires(t *testing.T) {
	room := newSchedulerRoom()
	var fired atomic.Bool

	room.Mu.Lock()
	room.scheduleDeadline(10*time.Millisecond, func() { fired.Store(true) })
	room.cancelDeadline()
	room.Mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestNewerDeadlineSupersedesOlder(t *testing.T) {
	room := newSchedulerRoom()
	var winner atomic.Int32

	room.Mu.Lock()
	room.scheduleDeadline(10*time.Millisecond, func() { winner.Store(1) })
	room.scheduleDeadline(20*time.Millisecond, func() { winner.Store(2) })
	room.Mu.Unlock()

	require.Eventually(t, func() bool { return winner.Load() != 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), winner.Load())
}

func TestDelayGuardBlocksStaleFiring(t *testing.T) {
	room := newSchedulerRoom()
	var fired atomic.Bool

	room.Mu.Lock()
	room.scheduleDelay(10*time.Millisecond, func() bool { return false }, func() { fired.Store(true) })
	room.Mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestNewerDelayInvalidatesOlder(t *testing.T) {
	room := newSchedulerRoom()
	var winner atomic.Int32

	room.Mu.Lock()
	room.scheduleDelay(10*time.Millisecond, func() bool { return true }, func() { winner.Store(1) })
	room.scheduleDelay(20*time.Millisecond, func() bool { return true }, func() { winner.Store(2) })
	room.Mu.Unlock()

	require.Eventually(t, func() bool { return winner.Load() != 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), winner.Load())
}
