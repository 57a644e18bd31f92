package model

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// amountPattern admits non-negative decimals with exactly two fractional
// digits or none at all.
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{2})?$`)

// Amount is a fixed-point monetary value held in minor units (cents).
type Amount int64

// ParseAmount parses a decimal string like "10.00" into minor units.
// The value must be positive.
func ParseAmount(s string) (Amount, error) {
	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid amount format: %q", s)
	}
	whole, frac := s, "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %q", s)
	}
	// w*100+f must not wrap int64.
	if w > (math.MaxInt64-f)/100 {
		return 0, fmt.Errorf("amount out of range: %q", s)
	}
	a := Amount(w*100 + f)
	if a <= 0 {
		return 0, fmt.Errorf("amount must be greater than zero: %q", s)
	}
	return a, nil
}

// String renders the amount with two-digit scale, e.g. "10.00".
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Processor is a configured payment backend.
type Processor struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Type                string            `json:"type"`
	Priority            int               `json:"priority"`
	Enabled             bool              `json:"enabled"`
	Config              map[string]string `json:"config,omitempty"`
	SuccessRate         float64           `json:"successRate"`
	ResponseTime        int               `json:"responseTime"`
	CircuitBreakerOpen  bool              `json:"circuitBreakerOpen"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	LastFailureTime     *time.Time        `json:"lastFailureTime,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// ProcessorUpdate is a partial update of a processor row. Nil fields are
// left untouched.
type ProcessorUpdate struct {
	Enabled             *bool
	Priority            *int
	CircuitBreakerOpen  *bool
	ConsecutiveFailures *int
	LastFailureTime     *time.Time
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction records one payment routed through the waterfall.
type Transaction struct {
	ID                     string            `json:"id"`
	Amount                 Amount            `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 TransactionStatus `json:"status"`
	ProcessorID            *string           `json:"processorId"`
	ProcessorTransactionID *string           `json:"processorTransactionId"`
	FailureReason          *string           `json:"failureReason,omitempty"`
	ProcessingTime         *int64            `json:"processingTime,omitempty"`
	AttemptedProcessors    []string          `json:"attemptedProcessors"`
	Metadata               map[string]any    `json:"metadata,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// TransactionUpdate is a partial update of a transaction row.
type TransactionUpdate struct {
	Status                 *TransactionStatus
	ProcessorID            *string
	ProcessorTransactionID *string
	FailureReason          *string
	ProcessingTime         *int64
	AttemptedProcessors    []string
}

// HealthMetric is one point sample of a processor's observed behavior.
type HealthMetric struct {
	ID                string    `json:"id"`
	ProcessorID       string    `json:"processorId"`
	Timestamp         time.Time `json:"timestamp"`
	SuccessCount      int       `json:"successCount"`
	FailureCount      int       `json:"failureCount"`
	AvgResponseTime   float64   `json:"avgResponseTime"`
	TotalTransactions int       `json:"totalTransactions"`
}

// LogLevel is the severity of a system log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Severity returns a numeric rank for level filtering.
func (l LogLevel) Severity() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// SystemLog is a stored structured log entry.
type SystemLog struct {
	ID            string         `json:"id"`
	Level         LogLevel       `json:"level"`
	Message       string         `json:"message"`
	Service       string         `json:"service"`
	TransactionID *string        `json:"transactionId,omitempty"`
	ProcessorID   *string        `json:"processorId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PaymentRequest is the caller-facing payment input.
type PaymentRequest struct {
	Amount   string         `json:"amount" validate:"required,amount"`
	Currency string         `json:"currency" validate:"omitempty,len=3,alpha"`
	Metadata map[string]any `json:"metadata"`
}

// PaymentResult is the routing engine's outcome for one payment.
type PaymentResult struct {
	Success             bool         `json:"success"`
	Transaction         *Transaction `json:"transaction"`
	ProcessorUsed       string       `json:"processorUsed,omitempty"`
	AttemptedProcessors []string     `json:"attemptedProcessors"`
	TotalProcessingTime int64        `json:"totalProcessingTime"`
	// SystemError distinguishes internal faults from processor declines so
	// the transport layer can answer with the right status class.
	SystemError bool `json:"-"`
}

// SystemStats are the aggregate KPIs over all transactions.
type SystemStats struct {
	TotalTransactions int     `json:"totalTransactions"`
	SuccessRate       float64 `json:"successRate"`
	AvgResponseTime   int     `json:"avgResponseTime"`
	ActiveProcessors  int     `json:"activeProcessors"`
}

// PriorityEntry is one candidate in a priority source's ordered list.
type PriorityEntry struct {
	ProcessorID string `json:"processorId"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// CircuitStatus is the externally visible breaker state of one processor.
type CircuitStatus struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IsOpen              bool   `json:"isOpen"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}
