package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolInfo is venue metadata needed to quantize prices and quantities.
type SymbolInfo struct {
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
	FetchedAt         time.Time
}

// Balance is a single asset's free/locked amounts.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// AccountInfo is the venue's view of a user's account.
type AccountInfo struct {
	CanTrade bool
	Balances []Balance
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// OrderUpdate is a normalized push event from a venue's user-data stream.
type OrderUpdate struct {
	UserID          string
	Symbol          string
	VenueOrderID    string
	ClientOrderID   string
	Status          OrderStatus
	ExecutedQty     decimal.Decimal
	ExecutedPrice   decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	EventTime       time.Time
}

// VenueRejectReason enumerates the rejection classes the §4.1 placeLimit
// operation can fail with; ExchangeGateway implementations map venue-
// specific error codes onto these via apperrors.
type VenueRejectReason string

const (
	RejectInsufficientFunds VenueRejectReason = "INSUFFICIENT_FUNDS"
	RejectLotSize           VenueRejectReason = "LOT_SIZE"
	RejectMinNotional       VenueRejectReason = "MIN_NOTIONAL"
	RejectPriceFilter       VenueRejectReason = "PRICE_FILTER"
	RejectTimestampSkew     VenueRejectReason = "TIMESTAMP_SKEW"
	RejectRateLimit         VenueRejectReason = "RATE_LIMIT"
	RejectRegionBlock       VenueRejectReason = "REGION_BLOCK"
	RejectTransient         VenueRejectReason = "TRANSIENT"
	RejectFatal             VenueRejectReason = "FATAL"
)

// ExchangeGateway is the opaque, per-user interface to one venue (§4.1).
// Implementations own one venue session: proxy binding, clock offset use,
// request signing, and rate-limited transport.
type ExchangeGateway interface {
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	AccountInfo(ctx context.Context) (AccountInfo, error)

	PlaceLimit(ctx context.Context, symbol string, side OrderSide, price, qty decimal.Decimal) (venueOrderID string, err error)
	Cancel(ctx context.Context, symbol, venueOrderID string) error
	QueryOrder(ctx context.Context, symbol, venueOrderID string) (OrderUpdate, error)
	OpenOrders(ctx context.Context, symbol string) ([]OrderUpdate, error)

	// UserDataStream starts (or resumes) the push stream and invokes handler
	// for each OrderUpdate until ctx is cancelled. It must be restartable:
	// callers may invoke it again after a disconnect.
	UserDataStream(ctx context.Context, handler func(OrderUpdate)) error
}

// PersistenceStore is the durable record store for bots, orders,
// performance snapshots, and the credential audit log (§3, §6).
type PersistenceStore interface {
	SaveBot(ctx context.Context, b Bot) error
	GetBot(ctx context.Context, botID string) (Bot, error)
	ListBots(ctx context.Context, ownerID string) ([]Bot, error)
	// ListActiveBots returns every bot still under active management
	// (active and paused, never stopped or errored) for the Recovery
	// Service's reconciliation sweep.
	ListActiveBots(ctx context.Context) ([]Bot, error)
	DeleteBot(ctx context.Context, botID string) error

	SaveOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, localID string) (Order, error)
	ListOrders(ctx context.Context, botID string) ([]Order, error)

	// SaveFillTransaction persists a fill's effects atomically: the bot
	// with its updated statistics and every order passed in (the terminal
	// order, any newly placed order), matching §5's "single write
	// transaction" shared-resource policy. No audit trail entry is written.
	SaveFillTransaction(ctx context.Context, bot Bot, orders []Order) error

	SavePerformanceSnapshot(ctx context.Context, p PerformanceSnapshot) error
	GetPerformanceSnapshot(ctx context.Context, botID string) (PerformanceSnapshot, error)

	AppendKeyAuditEvent(ctx context.Context, e KeyAuditEvent) error
	ListKeyAuditEvents(ctx context.Context, userID string) ([]KeyAuditEvent, error)

	Close() error
}

// Credentials are plaintext venue API credentials for one user.
type Credentials struct {
	APIKey    string
	APISecret string
}

// SecretVault returns plaintext exchange credentials for a user. The core
// holds only a short-lived handle for the duration of one signed request.
type SecretVault interface {
	CredentialsFor(ctx context.Context, userID string) (Credentials, error)
}

// OracleAdvice is the Parameter Oracle's proposal; the Bot Controller
// treats it as input to the same validator creation uses, never as a
// command.
type OracleAdvice struct {
	UpperPrice    decimal.Decimal
	LowerPrice    decimal.Decimal
	GridLevels    int
	ProfitPerGrid decimal.Decimal
	Reasoning     string
}

// ParameterOracle is the optional advisory collaborator (§4.8).
type ParameterOracle interface {
	Advise(ctx context.Context, symbol string, investment decimal.Decimal) (OracleAdvice, error)
}

// Logger is the process-wide structured logging interface every
// component is handed a With(component=...)-scoped child of.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(keyValues ...interface{}) Logger
}
