package orchestrator

import "context"

// Snapshot returns the state as of the last processed event.
func (o *Orchestrator) Snapshot() Snapshot {
	o.pubMu.RLock()
	defer o.pubMu.RUnlock()
	return cloneSnapshot(o.snap)
}

// Subscribe returns a channel that receives a snapshot after every state
// change, starting with the current one. Slow subscribers only see the latest
// snapshot. The returned cancel function releases the subscription; the
// channel is also closed when Run returns.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	o.pubMu.Lock()
	id := o.nextSub
	o.nextSub++
	ch <- cloneSnapshot(o.snap)
	select {
	case <-o.stopped:
		close(ch)
		o.pubMu.Unlock()
		return ch, func() {}
	default:
	}
	o.subs[id] = ch
	o.pubMu.Unlock()

	if o.metrics != nil {
		o.metrics.Subscribers.Add(context.Background(), 1)
	}
	cancel := func() {
		o.pubMu.Lock()
		defer o.pubMu.Unlock()
		if _, ok := o.subs[id]; !ok {
			return
		}
		delete(o.subs, id)
		close(ch)
		if o.metrics != nil {
			o.metrics.Subscribers.Add(context.Background(), -1)
		}
	}
	return ch, cancel
}

// publish copies the loop state into the shared snapshot and notifies
// subscribers. Called from the loop goroutine (and once from New).
func (o *Orchestrator) publish() {
	s := Snapshot{
		Messages:         o.log.Messages(),
		Version:          o.log.Version(),
		Phase:            phaseOf(o.listening, o.speaking, o.awaiting),
		Listening:        o.listening,
		AwaitingReply:    o.awaiting,
		Speaking:         o.speaking,
		CaptureAvailable: o.capture.Available(),
		Transcript:       o.transcript,
		Preferences:      o.prefs,
	}
	if o.lastErr != nil {
		e := *o.lastErr
		s.LastError = &e
	}

	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	o.snap = s
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cloneSnapshot(s)
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Messages = append(s.Messages[:0:0], s.Messages...)
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}
