package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditAction names a trade lifecycle milestone
type AuditAction string

const (
	ActionBotStart          AuditAction = "BOT_START"
	ActionBotStop           AuditAction = "BOT_STOP"
	ActionSignalDetected    AuditAction = "SIGNAL_DETECTED"
	ActionSignalConfirmed   AuditAction = "SIGNAL_CONFIRMED"
	ActionSignalCancelled   AuditAction = "SIGNAL_CANCELLED"
	ActionPositionOpen      AuditAction = "POSITION_OPEN"
	ActionOrdersCreated     AuditAction = "ORDERS_CREATED"
	ActionTradeFailed       AuditAction = "TRADE_FAILED"
	ActionPositionClose     AuditAction = "POSITION_CLOSE"
	ActionPositionCanceled  AuditAction = "POSITION_CANCELED"
	ActionProtectionHealed  AuditAction = "PROTECTION_HEALED"
	ActionOrphanOrdersClear AuditAction = "ORPHAN_ORDERS_CANCELED"
)

// AuditEvent is one append-only trade activity record
type AuditEvent struct {
	Time     time.Time
	Action   AuditAction
	Symbol   string
	SignalID string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Details  string
}
