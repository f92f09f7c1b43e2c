// Package notify forwards error reports to an HTTP webhook such as an ntfy
// topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const postTimeout = 10 * time.Second

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return fmt.Errorf("notify: empty endpoint")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Webhook posts each record it is given as JSON. Posting happens on a
// background goroutine; records are dropped when the queue is full.
type Webhook struct {
	endpoint string
	client   *http.Client
	queue    chan string
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewWebhook(endpoint string, client *http.Client, queueSize int) *Webhook {
	if queueSize <= 0 {
		queueSize = 32
	}
	w := &Webhook{
		endpoint: endpoint,
		client:   client,
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Webhook) Write(record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("notify: marshal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("notify: webhook closed")
	}
	select {
	case w.queue <- string(body):
		return nil
	default:
		return fmt.Errorf("notify: queue full")
	}
}

// Close flushes queued records and stops the worker.
func (w *Webhook) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

func (w *Webhook) loop() {
	defer close(w.done)
	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		if err := Send(ctx, w.client, w.endpoint, msg); err != nil {
			slog.Warn("error report webhook failed", "endpoint", w.endpoint, "error", err)
		}
		cancel()
	}
}
