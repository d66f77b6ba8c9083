package coopsched

import (
	"github.com/ellerydavis/coopsched/coop"
)

// ConsumeChannel drains ch, calling handle for each received value, one
// coop budget unit at a time, until ch reports empty (no value ready right
// now) or the calling scope's budget runs out. It never blocks: a channel
// with nothing ready is treated exactly like an empty queue pop.
//
// drained reports whether at least one value was consumed. exhausted
// reports whether the loop stopped because the budget ran out rather than
// because ch had nothing left to offer - callers that want to keep
// draining a still-busy channel check this to decide whether to
// resubmit themselves.
func ConsumeChannel[T any](waker coop.Waker, ch <-chan T, handle func(T)) (drained bool, exhausted bool) {
	for {
		guard, ok := coop.PollProceed(&coop.Cx{Waker: waker})
		if !ok {
			return drained, true
		}

		select {
		case v, open := <-ch:
			if !open {
				guard.Drop()
				return drained, false
			}
			guard.MadeProgress()
			guard.Drop()
			handle(v)
			drained = true
		default:
			guard.Drop()
			return drained, false
		}
	}
}

// SubmitChannelConsumer submits a task to l's internal queue that drains ch
// via ConsumeChannel every time it runs. Go methods cannot carry their own
// type parameters, so this is a free function rather than a method on Loop.
//
// When a drain stops because the budget ran out, the task resubmits itself
// to SubmitInternal immediately so draining resumes on a later tick instead
// of starving everything else sharing the budget. When the drain stops
// because ch had nothing ready, a background goroutine blocks on the next
// receive and resubmits the drain once a value (or the channel's close)
// arrives, rather than busy-resubmitting against an empty channel. When ch
// is closed, the consumer simply stops.
func SubmitChannelConsumer[T any](l *Loop, ch <-chan T, handle func(T)) error {
	var run func()
	run = func() {
		_, exhausted := ConsumeChannel(l.waker, ch, handle)
		switch {
		case exhausted:
			_ = l.SubmitInternal(run)
		default:
			go func() {
				v, open := <-ch
				if !open {
					return
				}
				_ = l.SubmitInternal(func() {
					handle(v)
					run()
				})
			}()
		}
	}
	return l.SubmitInternal(run)
}
