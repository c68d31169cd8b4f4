// Package core defines the domain types shared across the grid trading
// engine: bots, orders, performance projections, and audit records.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BotState is the lifecycle state of a Bot.
type BotState string

const (
	BotActive  BotState = "active"
	BotPaused  BotState = "paused"
	BotStopped BotState = "stopped"
	BotError   BotState = "error"
)

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the venue-truth lifecycle of an Order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether status is a member of the terminal set.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// DormantReason explains why a rung has no live order.
type DormantReason string

const (
	DormantNoBaseBalance    DormantReason = "NoBaseBalance"
	DormantInsufficientQuote DormantReason = "InsufficientQuote"
	DormantOutOfRange       DormantReason = "OutOfRange"
	DormantAwaitingFill     DormantReason = "AwaitingFill"
)

// RecoveryTrigger names what caused a reconciliation pass.
type RecoveryTrigger string

const (
	TriggerStartup RecoveryTrigger = "startup"
	TriggerTick    RecoveryTrigger = "tick"
	TriggerManual  RecoveryTrigger = "manual"
)

// BotConfig is the user-supplied, validated-once configuration for a grid run.
type BotConfig struct {
	UpperPrice       decimal.Decimal
	LowerPrice       decimal.Decimal
	GridLevels       int
	InvestmentAmount decimal.Decimal
	ProfitPerGrid    decimal.Decimal // percent, e.g. 1 == 1%
	TestMode         bool
}

// StepSize is (UpperPrice-LowerPrice)/(GridLevels-1).
func (c BotConfig) StepSize() decimal.Decimal {
	return c.UpperPrice.Sub(c.LowerPrice).Div(decimal.NewFromInt(int64(c.GridLevels - 1)))
}

// PerRungInvestment is InvestmentAmount/GridLevels.
func (c BotConfig) PerRungInvestment() decimal.Decimal {
	return c.InvestmentAmount.Div(decimal.NewFromInt(int64(c.GridLevels)))
}

// RungPrice returns the price of rung r (0-indexed).
func (c BotConfig) RungPrice(r int) decimal.Decimal {
	return c.LowerPrice.Add(c.StepSize().Mul(decimal.NewFromInt(int64(r))))
}

// Statistics aggregates running totals for a Bot.
type Statistics struct {
	TotalProfit decimal.Decimal
	TotalTrades int
}

// RecoveryHistoryEntry records the outcome of one reconciliation pass.
type RecoveryHistoryEntry struct {
	Timestamp  time.Time
	Trigger    RecoveryTrigger
	Restored   int
	Cancelled  int
	Skipped    int
	Diagnostic string
}

// DormantRung records a rung with no live order and the reason why.
type DormantRung struct {
	GridLevel int
	Side      OrderSide
	Reason    DormantReason
	UpdatedAt time.Time
}

// OracleSnapshot is the last Parameter Oracle advisory accepted for a bot, if any.
type OracleSnapshot struct {
	UpperPrice    decimal.Decimal
	LowerPrice    decimal.Decimal
	GridLevels    int
	ProfitPerGrid decimal.Decimal
	Reasoning     string
	AdvisedAt     time.Time
}

// Bot is one per user+symbol+run.
type Bot struct {
	ID      string
	OwnerID string
	Symbol  string // venue symbol, uppercase

	Config BotConfig
	State  BotState

	Statistics     Statistics
	RecoveryHistory []RecoveryHistoryEntry
	DormantRungs   []DormantRung
	Oracle         *OracleSnapshot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is a limit order known to the Bot Controller.
type Order struct {
	LocalID  string
	BotID    string
	VenueID  string // populated after placement
	ParentID string // local id of the counter-order this order's pair closes, if any

	Side      OrderSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	GridLevel int
	Status    OrderStatus

	ExecutedPrice   decimal.Decimal
	ExecutedQty     decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string

	HasCorrespondingSell bool
	IsRecoveryOrder      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is Quantity-ExecutedQty, floored at zero.
func (o Order) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.ExecutedQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Pair is a matched (BUY, SELL) used by the performance projection.
type Pair struct {
	Buy         Order
	Sell        Order
	RealizedPnL decimal.Decimal
}

// PerformanceSnapshot is derived and rebuildable from Order history alone.
type PerformanceSnapshot struct {
	BotID string

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	WinRate    decimal.Decimal
	TradeCount int
	BestTrade  decimal.Decimal
	WorstTrade decimal.Decimal

	ProfitByDay      map[string]decimal.Decimal
	ProfitByGridLevel map[int]decimal.Decimal

	UnpairedSellDiagnostic []string

	ComputedAt time.Time
}

// KeyAuditAction names a credential lifecycle action.
type KeyAuditAction string

const (
	KeyAdded   KeyAuditAction = "added"
	KeyUpdated KeyAuditAction = "updated"
	KeyRemoved KeyAuditAction = "removed"
)

// KeyAuditEvent is an append-only record of a credential action.
type KeyAuditEvent struct {
	ID         string
	UserID     string
	Action     KeyAuditAction
	ClientAddr string
	Outcome    string
	Timestamp  time.Time
}
