// internal/game/scheduler.go
package game

import "time"

// The room owns at most one pending turn deadline at a time, plus
// short presentation delays that re-enter the same serialized path.
// Both kinds of callback re-acquire the room lock and validate a
// generation counter before acting, so a firing that raced with a
// player action (or any other transition) is a no-op.

// scheduleDeadline arranges the room's single turn deadline, cancelling
// any still-pending one first. fire runs with the lock held and only if
// no newer deadline or cancellation superseded this one.
// Assumes the lock is held.
func (r *Room) scheduleDeadline(d time.Duration, fire func()) {
	r.cancelDeadline()
	seq := r.deadlineSeq
	r.deadlineTimer = time.AfterFunc(d, func() {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		if r.deadlineSeq != seq {
			return
		}
		r.deadlineTimer = nil
		fire()
	})
}

// cancelDeadline stops any pending deadline and invalidates an already
// in-flight firing. Assumes the lock is held.
func (r *Room) cancelDeadline() {
	r.deadlineSeq++
	if r.deadlineTimer != nil {
		r.deadlineTimer.Stop()
		r.deadlineTimer = nil
	}
}

// scheduleDelay runs fn after a presentation pause. The guard is
// re-checked at fire time against the then-current room state; scheduling
// a newer delay (or starting a new round) invalidates older ones.
// Assumes the lock is held.
func (r *Room) scheduleDelay(d time.Duration, guard func() bool, fn func()) {
	r.delaySeq++
	seq := r.delaySeq
	time.AfterFunc(d, func() {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		if r.delaySeq != seq || !guard() {
			return
		}
		fn()
	})
}
