package tracker

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// transport ships envelopes to the collector and owns the retry queue. Sends
// happen off the caller's goroutine so tracking calls never block on the
// network; failed envelopes land in the durable queue and are re-sent by a
// ticker loop until they succeed or exhaust their retry budget.
type transport struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	store      localstore.Store
	log        *zap.Logger
	interval   time.Duration
	maxRetries int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newTransport(endpoint, apiKey string, client *http.Client, store localstore.Store, log *zap.Logger, interval time.Duration, maxRetries int) *transport {
	return &transport{
		endpoint:   endpoint,
		apiKey:     apiKey,
		client:     client,
		store:      store,
		log:        log,
		interval:   interval,
		maxRetries: maxRetries,
		done:       make(chan struct{}),
	}
}

// send serializes and ships one envelope asynchronously. Failures are queued,
// never surfaced.
func (tp *transport) send(eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		tp.log.Warn("marshal analytics payload", zap.String("eventType", eventType), zap.Error(err))
		return
	}

	tp.wg.Add(1)
	go func() {
		defer tp.wg.Done()
		if tp.post(eventType, payload) {
			return
		}
		if err := tp.store.Enqueue(eventType, payload); err != nil {
			tp.log.Warn("enqueue failed analytics event",
				zap.String("eventType", eventType), zap.Error(err))
		}
	}()
}

// post performs one collector request. Reports success only for 2xx.
func (tp *transport) post(eventType string, payload json.RawMessage) bool {
	env := models.Envelope{
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		tp.log.Warn("marshal analytics envelope", zap.Error(err))
		return false
	}

	req, err := http.NewRequest(http.MethodPost, tp.endpoint+"/analytics", bytes.NewReader(body))
	if err != nil {
		tp.log.Warn("build analytics request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if tp.apiKey != "" {
		req.Header.Set("X-API-KEY", tp.apiKey)
	}

	resp, err := tp.client.Do(req)
	if err != nil {
		tp.log.Warn("analytics request failed",
			zap.String("eventType", eventType), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		tp.log.Warn("analytics request rejected",
			zap.String("eventType", eventType), zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// start launches the retry loop: one flush immediately, then one per interval.
func (tp *transport) start() {
	tp.wg.Add(1)
	go func() {
		defer tp.wg.Done()
		tp.flush()

		ticker := time.NewTicker(tp.interval)
		defer ticker.Stop()
		for {
			select {
			case <-tp.done:
				return
			case <-ticker.C:
				tp.flush()
			}
		}
	}()
}

// stop ends the retry loop and waits for in-flight sends.
func (tp *transport) stop() {
	tp.stopOnce.Do(func() { close(tp.done) })
	tp.wg.Wait()
}

// flush scans the durable queue once. Each entry is re-sent and removed on
// success, or its retry count advances; an entry whose count reaches
// maxRetries is dropped. Telemetry, not transactional data: loss is accepted.
func (tp *transport) flush() {
	entries, err := tp.store.Queue()
	if err != nil {
		tp.log.Warn("read retry queue", zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.RetryCount >= tp.maxRetries {
			tp.drop(e)
			continue
		}
		if tp.post(e.EventType, e.Payload) {
			if err := tp.store.Dequeue(e.ID); err != nil {
				tp.log.Warn("dequeue retried event", zap.Int64("id", e.ID), zap.Error(err))
			}
			continue
		}
		if e.RetryCount+1 >= tp.maxRetries {
			tp.drop(e)
			continue
		}
		if err := tp.store.IncrementRetry(e.ID); err != nil {
			tp.log.Warn("increment retry count", zap.Int64("id", e.ID), zap.Error(err))
		}
	}
}

func (tp *transport) drop(e localstore.QueueEntry) {
	tp.log.Warn("dropping analytics event after retry budget exhausted",
		zap.String("eventType", e.EventType),
		zap.Int("retries", e.RetryCount))
	if err := tp.store.Dequeue(e.ID); err != nil {
		tp.log.Warn("dequeue exhausted event", zap.Int64("id", e.ID), zap.Error(err))
	}
}
