// internal/events/types.go
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by a Notification.
type Kind string

const (
	KindTrade  Kind = "trade"
	KindRisk   Kind = "risk"
	KindSystem Kind = "system"
)

// Severity of risk and system alerts.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityCritical
	SeveritySuccess
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	case SeveritySuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Priority orders delivery. Urgent notifications jump the normal queue.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityNormal
)

// Risk alert types.
const (
	AlertRugPull        = "RUG_PULL"
	AlertSafetyRejected = "SAFETY_REJECTED"
	AlertFallbackExit   = "FALLBACK_EXIT"
)

// System alert types.
const (
	AlertLoopError     = "LOOP_ERROR"
	AlertBalanceLow    = "BALANCE_LOW"
	AlertExitFailed    = "EXIT_FAILED"
	AlertStartup       = "STARTUP"
	AlertShutdown      = "SHUTDOWN"
	AlertPortfolioSync = "PORTFOLIO_SYNC"
)

type TradeSignal struct {
	TokenAddress string    `json:"token_address"`
	Chain        string    `json:"chain"`
	Direction    Direction `json:"direction"`
	Amount       float64   `json:"amount"`
	Price        float64   `json:"price"`
	TxRef        string    `json:"tx_hash,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

type RiskAlert struct {
	TokenAddress string             `json:"token_address"`
	Chain        string             `json:"chain"`
	AlertType    string             `json:"alert_type"`
	Severity     Severity           `json:"severity"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

type SystemAlert struct {
	Component string   `json:"component"`
	AlertType string   `json:"alert_type"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// Notification is a tagged union: exactly one of Trade, Risk or System is
// set, matching Kind.
type Notification struct {
	ID       string       `json:"id"`
	Kind     Kind         `json:"kind"`
	Priority Priority     `json:"priority"`
	Time     time.Time    `json:"time"`
	Trade    *TradeSignal `json:"trade,omitempty"`
	Risk     *RiskAlert   `json:"risk,omitempty"`
	System   *SystemAlert `json:"system,omitempty"`
}

var ErrInvalidNotification = errors.New("invalid notification")

func NewTrade(sig TradeSignal) Notification {
	return Notification{
		ID:       uuid.New().String(),
		Kind:     KindTrade,
		Priority: PriorityNormal,
		Time:     time.Now(),
		Trade:    &sig,
	}
}

// NewRisk builds a risk alert; warnings and critical alerts are urgent.
func NewRisk(alert RiskAlert) Notification {
	return Notification{
		ID:       uuid.New().String(),
		Kind:     KindRisk,
		Priority: priorityFor(alert.Severity),
		Time:     time.Now(),
		Risk:     &alert,
	}
}

func NewSystem(alert SystemAlert) Notification {
	return Notification{
		ID:       uuid.New().String(),
		Kind:     KindSystem,
		Priority: priorityFor(alert.Severity),
		Time:     time.Now(),
		System:   &alert,
	}
}

func priorityFor(s Severity) Priority {
	if s == SeverityCritical || s == SeverityWarning {
		return PriorityUrgent
	}
	return PriorityNormal
}

// Urgent reports whether the notification should alert the recipient audibly.
func (n Notification) Urgent() bool {
	return n.Priority == PriorityUrgent
}

// Subject is the token address for trade and risk payloads and the component
// for system payloads.
func (n Notification) Subject() string {
	switch n.Kind {
	case KindTrade:
		return n.Trade.TokenAddress
	case KindRisk:
		return n.Risk.TokenAddress
	case KindSystem:
		return n.System.Component
	}
	return ""
}

// Validate checks that the payload matches Kind.
func (n Notification) Validate() error {
	var ok bool
	switch n.Kind {
	case KindTrade:
		ok = n.Trade != nil && n.Risk == nil && n.System == nil
	case KindRisk:
		ok = n.Risk != nil && n.Trade == nil && n.System == nil
	case KindSystem:
		ok = n.System != nil && n.Trade == nil && n.Risk == nil
	}
	if !ok {
		return ErrInvalidNotification
	}
	return nil
}
