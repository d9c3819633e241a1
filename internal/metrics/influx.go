package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// InfluxSink batches counter deltas in memory and periodically flushes
// them to an InfluxDB line-protocol write endpoint, mirroring the
// ticker-driven "accumulate, then flush on a timer" shape used
// elsewhere for metrics: accumulate cheaply on the hot path, pay the
// network cost on a fixed cadence instead of per-event.
type InfluxSink struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	pending map[key]int64

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewInfluxSink starts a background flush loop posting to writeURL
// (a fully-formed InfluxDB /write endpoint, including bucket/token query
// params) every interval.
func NewInfluxSink(writeURL string, interval time.Duration) *InfluxSink {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &InfluxSink{
		url:     writeURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		pending: make(map[key]int64),
		ticker:  time.NewTicker(interval),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *InfluxSink) Inc(counter, addr, reason string, delta int64) {
	s.mu.Lock()
	s.pending[key{counter, addr, reason}] += delta
	s.mu.Unlock()
}

func (s *InfluxSink) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.ticker.C:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

func (s *InfluxSink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[key]int64)
	s.mu.Unlock()

	var buf bytes.Buffer
	now := time.Now().UnixNano()
	for k, v := range batch {
		fmt.Fprintf(&buf, "%s,addr=%s,reason=%s value=%di %d\n",
			k.counter, SanitizeAddr(k.addr), tagOrNone(k.reason), v, now)
	}
	req, err := http.NewRequest(http.MethodPost, s.url, &buf)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func tagOrNone(reason string) string {
	if reason == "" {
		return "none"
	}
	return reason
}

// Close stops the flush loop after a final drain.
func (s *InfluxSink) Close() error {
	s.ticker.Stop()
	close(s.stopCh)
	<-s.doneCh
	return nil
}
