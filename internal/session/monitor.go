package session

import (
	"sync"
	"time"
)

// SpeakingThreshold is the normalized level above which a participant
// counts as speaking.
const SpeakingThreshold = 0.1

// DefaultSampleInterval is roughly 60 samples per second.
const DefaultSampleInterval = 16 * time.Millisecond

// levelMonitor periodically samples the capture stream's level and
// reports it. It is an explicitly stopped task, not a loop that checks
// liveness each tick; Stop is idempotent and synchronous.
type levelMonitor struct {
	stream    CaptureStream
	interval  time.Duration
	threshold float64
	// onSample gets every tick's level; changed is true only on a
	// speaking transition, which is the only time a broadcast goes out.
	onSample func(level float64, speaking bool, changed bool)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newLevelMonitor(stream CaptureStream, interval time.Duration, threshold float64, onSample func(level float64, speaking bool, changed bool)) *levelMonitor {
	return &levelMonitor{
		stream:    stream,
		interval:  interval,
		threshold: threshold,
		onSample:  onSample,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (m *levelMonitor) Start() {
	go m.run()
}

func (m *levelMonitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	speaking := false
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			level := m.stream.Level()
			now := level >= m.threshold
			changed := now != speaking
			speaking = now
			m.onSample(level, speaking, changed)
		}
	}
}

// Stop halts the task and waits for the tick in flight, so no sample
// callback runs after Stop returns.
func (m *levelMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}
