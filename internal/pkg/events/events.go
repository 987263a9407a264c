package events

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Domain event names emitted by the core. A notification collaborator renders
// and delivers them; the core never formats user-facing text.
const (
	TypeSubscriptionActivated    = "subscription_activated"
	TypeSubscriptionExpired      = "subscription_expired"
	TypePaymentRejected          = "payment_rejected"
	TypeEntitlementDriftDetected = "entitlement_drift_detected"
	TypeRefundPending            = "refund_pending"
)

// Event is a single domain event with a structured payload.
type Event struct {
	Type           string            `json:"type"`
	UserID         uint              `json:"user_id,omitempty"`
	SubscriptionID uint              `json:"subscription_id,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	ExternalID     string            `json:"external_id,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Sink receives domain events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ev Event)
}

// LogSink writes events to the application log. It is the default sink when
// no notification collaborator is wired.
type LogSink struct{}

func (LogSink) Publish(ev Event) {
	log.Infof("[Events] %s user=%d subscription=%d provider=%s external_id=%s",
		ev.Type, ev.UserID, ev.SubscriptionID, ev.Provider, ev.ExternalID)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// CollectSink records events in memory for tests and admin inspection.
type CollectSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *CollectSink) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything published so far.
func (c *CollectSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// CountOf returns how many events of the given type were published.
func (c *CollectSink) CountOf(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// New stamps an event with the current time.
func New(eventType string) Event {
	return Event{Type: eventType, OccurredAt: time.Now()}
}
