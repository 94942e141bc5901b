package transport

import (
	"sync"
	"time"
)

// TimerCallback runs when a scheduled timer fires.
type TimerCallback func()

// TimerKey names a timer uniquely within a TimerManager.
type TimerKey string

type timerEntry struct {
	duration time.Duration
	callback TimerCallback
	stop     chan struct{}
}

// TimerManager backs every delay in this package: a sender's per-packet
// retransmission timeout (spec.md §4.2), and a Socket's periodic sweep
// that reaps senders past their reclamation grace period (spec.md §9). One-shot and periodic timers share a key namespace and a
// single shutdown signal so Stop tears both down together.
type TimerManager struct {
	mu       sync.Mutex
	once     map[TimerKey]*timerEntry
	periodic map[TimerKey]*timerEntry
	stopAll  chan struct{}
	wg       sync.WaitGroup
}

// NewTimerManager creates a ready-to-use manager.
func NewTimerManager() *TimerManager {
	return &TimerManager{
		once:     make(map[TimerKey]*timerEntry),
		periodic: make(map[TimerKey]*timerEntry),
		stopAll:  make(chan struct{}),
	}
}

// Schedule arms a one-shot timer under id, replacing any existing one-shot
// timer of the same id.
func (tm *TimerManager) Schedule(id TimerKey, d time.Duration, cb TimerCallback) {
	tm.mu.Lock()
	if existing, ok := tm.once[id]; ok {
		delete(tm.once, id)
		close(existing.stop)
	}
	entry := &timerEntry{duration: d, callback: cb, stop: make(chan struct{})}
	tm.once[id] = entry
	tm.mu.Unlock()

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()

		t := time.NewTimer(entry.duration)
		defer t.Stop()

		select {
		case <-t.C:
			cb()
		case <-entry.stop:
			if !t.Stop() {
				<-t.C
			}
		case <-tm.stopAll:
			if !t.Stop() {
				<-t.C
			}
		}

		tm.mu.Lock()
		delete(tm.once, id)
		tm.mu.Unlock()
	}()
}

// SchedulePeriodic arms a recurring timer under id, replacing any existing
// periodic timer of the same id.
func (tm *TimerManager) SchedulePeriodic(id TimerKey, interval time.Duration, cb TimerCallback) {
	tm.mu.Lock()
	if existing, ok := tm.periodic[id]; ok {
		delete(tm.periodic, id)
		close(existing.stop)
	}
	entry := &timerEntry{duration: interval, callback: cb, stop: make(chan struct{})}
	tm.periodic[id] = entry
	tm.mu.Unlock()

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()

		ticker := time.NewTicker(entry.duration)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cb()
			case <-entry.stop:
				tm.mu.Lock()
				delete(tm.periodic, id)
				tm.mu.Unlock()
				return
			case <-tm.stopAll:
				tm.mu.Lock()
				delete(tm.periodic, id)
				tm.mu.Unlock()
				return
			}
		}
	}()
}

// StopTimer cancels a one-shot or periodic timer by id. Reports whether a
// timer was found.
func (tm *TimerManager) StopTimer(id TimerKey) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if entry, ok := tm.once[id]; ok {
		close(entry.stop)
		delete(tm.once, id)
		return true
	}
	if entry, ok := tm.periodic[id]; ok {
		close(entry.stop)
		delete(tm.periodic, id)
		return true
	}
	return false
}

// Stop cancels every outstanding timer and waits for their goroutines to
// exit.
func (tm *TimerManager) Stop() {
	close(tm.stopAll)
	tm.wg.Wait()
}
