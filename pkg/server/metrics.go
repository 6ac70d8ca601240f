package server

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current open connections
	FailedAuths       atomic.Int64 // failed sign-up / sign-in attempts
	SuccessfulAuths   atomic.Int64 // successful sign-ups and sign-ins
	TotalDisconnects  atomic.Int64 // connections closed, any reason
	Evictions         atomic.Int64 // sessions replaced by a newer login

	// Chat counters
	ChatMessages     atomic.Int64 // chat lines broadcast
	Deliveries       atomic.Int64 // per-recipient deliveries queued
	DeliveryFailures atomic.Int64 // recipients closed on delivery failure

	// Room counters
	RoomsCreated atomic.Int64
	RoomSwitches atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime string

	ActiveConnections int64
	TotalConnections  int64
	SuccessfulAuths   int64
	FailedAuths       int64
	TotalDisconnects  int64
	Evictions         int64

	ChatMessages     int64
	Deliveries       int64
	DeliveryFailures int64

	RoomsCreated int64
	RoomSwitches int64
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime:            time.Since(m.startTime).Truncate(time.Second).String(),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Evictions:         m.Evictions.Load(),
		ChatMessages:      m.ChatMessages.Load(),
		Deliveries:        m.Deliveries.Load(),
		DeliveryFailures:  m.DeliveryFailures.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomSwitches:      m.RoomSwitches.Load(),
	}
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chat_msgs", s.ChatMessages,
		"deliveries", s.Deliveries,
		"delivery_failures", s.DeliveryFailures,
		"evictions", s.Evictions,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
