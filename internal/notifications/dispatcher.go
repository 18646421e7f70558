// Package notifications defines the outbound dispatch contract of the SLA
// engine. Delivery mechanics (templates, transport) belong to the surrounding
// application; the engine only hands over (tenant, recipient, channel,
// template, data) tuples.
package notifications

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Notification is one dispatch request.
type Notification struct {
	TenantID    string
	RecipientID int64
	Channel     string
	TemplateKey string
	Data        map[string]interface{}
}

// Dispatcher delivers a notification. Failures never affect SLA state; the
// caller audits them and moves on.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, n Notification) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// MemoryDispatcher collects notifications in memory. Used in tests and as the
// default when no real dispatcher is wired.
type MemoryDispatcher struct {
	mu   sync.Mutex
	sent []Notification
	// FailChannels makes dispatch fail for the listed channels, for
	// exercising the audit/watermark paths.
	FailChannels map[string]bool
}

// NewMemoryDispatcher creates an empty in-memory dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

// Dispatch records the notification, or fails if its channel is marked.
func (d *MemoryDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailChannels[n.Channel] {
		return fmt.Errorf("channel %s unavailable", n.Channel)
	}
	d.sent = append(d.sent, n)
	return nil
}

// Sent returns a copy of everything dispatched so far.
func (d *MemoryDispatcher) Sent() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.sent...)
}

// Reset clears the recorded notifications.
func (d *MemoryDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = nil
}

// LogDispatcher writes every notification to a logger. It is the default
// production dispatcher until the host application registers a real delivery
// integration; the log line carries everything a downstream shipper needs.
type LogDispatcher struct {
	logger *log.Logger
}

// NewLogDispatcher creates a dispatcher writing to the given logger,
// log.Default() when nil.
func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.Printf("notification: tenant=%s recipient=%d channel=%s template=%s data=%v",
		n.TenantID, n.RecipientID, n.Channel, n.TemplateKey, n.Data)
	return nil
}
