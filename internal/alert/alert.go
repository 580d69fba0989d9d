// Package alert delivers human-readable trade notifications to chat channels
package alert

import (
	"context"
	"sync"
	"time"

	"signalbot/internal/core"
	"signalbot/pkg/concurrency"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// AlertPayload is one notification. Message is HTML-formatted.
type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager fans payloads out to every channel on a worker pool
type AlertManager struct {
	channels []AlertChannel
	pool     *concurrency.WorkerPool
	timeout  time.Duration
	logger   core.ILogger
	mu       sync.RWMutex
}

var _ core.INotifier = (*AlertManager)(nil)

// NewAlertManager creates a manager delivering on pool
func NewAlertManager(pool *concurrency.WorkerPool, logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		pool:     pool,
		timeout:  10 * time.Second,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels returns the number of configured channels
func (am *AlertManager) Channels() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

// Notify sends an INFO message. It reports whether the message was queued
// for at least one channel; delivery itself is best-effort.
func (am *AlertManager) Notify(ctx context.Context, message string) bool {
	return am.Alert(ctx, "", message, Info, nil)
}

// Critical sends a CRITICAL message
func (am *AlertManager) Critical(ctx context.Context, message string) bool {
	return am.Alert(ctx, "", message, Critical, nil)
}

// Alert queues payload delivery and returns without waiting for it
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) bool {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.mu.RLock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.RUnlock()

	am.logger.Debug("Triggering alert", "title", title, "level", level, "channels", len(channels))

	// delivery outlives the caller's context
	base := context.WithoutCancel(ctx)
	queued := false
	for _, ch := range channels {
		c := ch
		err := am.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(base, am.timeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
		if err != nil {
			am.logger.Warn("Alert dropped", "channel", c.Name(), "error", err)
			continue
		}
		queued = true
	}
	return queued
}

// Stop waits for queued deliveries
func (am *AlertManager) Stop() {
	am.pool.Stop()
}

type criticalNotifier interface {
	Critical(ctx context.Context, message string) bool
}

// SendCritical delivers message at CRITICAL level when n supports it and
// falls back to Notify otherwise. A nil notifier is ignored.
func SendCritical(ctx context.Context, n core.INotifier, message string) bool {
	if n == nil {
		return false
	}
	if c, ok := n.(criticalNotifier); ok {
		return c.Critical(ctx, message)
	}
	return n.Notify(ctx, message)
}
