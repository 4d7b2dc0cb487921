package gateway

import (
	"context"
	"fmt"
	"strings"
)

// ID identifies a configured payment gateway.
type ID string

const (
	Stripe ID = "stripe"
	SumUp  ID = "sumup"
	Zettle ID = "zettle"
	Square ID = "square"
)

// Status is the operational status reported for a gateway.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusError       Status = "error"
	StatusConfiguring Status = "configuring"
)

// ParseStatus maps a wire value to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusActive, StatusInactive, StatusError, StatusConfiguring:
		return st, nil
	}
	return "", fmt.Errorf("unknown gateway status %q", s)
}

// Channel is the capability a payment needs from its gateway.
type Channel string

const (
	ChannelTerminal Channel = "terminal"
	ChannelOnline   Channel = "online"
)

// ParseChannel maps a wire value to a Channel. Empty input means terminal.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(s)); c {
	case "":
		return ChannelTerminal, nil
	case ChannelTerminal, ChannelOnline:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

type Capabilities struct {
	SupportsTerminal bool
	SupportsOnline   bool
}

// Supports reports whether the gateway can serve the channel.
func (c Capabilities) Supports(ch Channel) bool {
	switch ch {
	case ChannelTerminal:
		return c.SupportsTerminal
	case ChannelOnline:
		return c.SupportsOnline
	}
	return false
}

// FeeSchedule is the per-transaction fee the gateway charges.
// PercentBasisPoints is hundredths of a percent, so 1.4% is 140.
type FeeSchedule struct {
	PercentBasisPoints int64
	FixedCents         int64
	Currency           string
}

// Estimate returns the fee for a charge of totalCents, rounded half up.
func (f FeeSchedule) Estimate(totalCents int64) int64 {
	variable := (totalCents*f.PercentBasisPoints + 5000) / 10000
	return variable + f.FixedCents
}

// Descriptor is the registry's view of a gateway.
type Descriptor struct {
	ID           ID
	DisplayName  string
	Status       Status
	Enabled      bool
	Capabilities Capabilities
	Fees         FeeSchedule
}

// Outcome classifies the result of a gateway call.
type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeDeclined         Outcome = "declined"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Result is the normalized response of a charge, refund or capture.
type Result struct {
	Outcome       Outcome
	TransactionID string
	CardLastFour  string
	CardBrand     string
	ReceiptRef    string
	Reason        string
}

func Approved(txID string) *Result {
	return &Result{Outcome: OutcomeApproved, TransactionID: txID}
}

func Declined(reason string) *Result {
	return &Result{Outcome: OutcomeDeclined, Reason: reason}
}

func Transient(reason string) *Result {
	return &Result{Outcome: OutcomeTransientFailure, Reason: reason}
}

func Permanent(reason string) *Result {
	return &Result{Outcome: OutcomePermanentFailure, Reason: reason}
}

// IsApproved reports whether the gateway accepted the operation.
func (r *Result) IsApproved() bool {
	return r != nil && r.Outcome == OutcomeApproved
}

// Retryable reports whether the same call may succeed if repeated.
func (r *Result) Retryable() bool {
	return r != nil && r.Outcome == OutcomeTransientFailure
}

type ChargeRequest struct {
	PaymentID      string
	OrderID        string
	AmountCents    int64
	Currency       string
	Channel        Channel
	IdempotencyKey string
	Metadata       map[string]any
}

type RefundRequest struct {
	RefundID      string
	TransactionID string
	AmountCents   int64
	Currency      string
	Reason        string
}

type CaptureRequest struct {
	PaymentID     string
	TransactionID string
	AmountCents   int64
	Currency      string
}

// Token is a short-lived secret a terminal reader uses to connect.
type Token struct {
	Secret           string
	ExpiresInSeconds int
}

// Adapter translates canonical requests into one gateway's protocol.
// Implementations report outcomes through Result and never retry internally.
// A non-nil error means the call could not be classified at all.
type Adapter interface {
	ID() ID
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}

// TerminalTokenIssuer is implemented by adapters that pair card readers.
type TerminalTokenIssuer interface {
	CreateTerminalToken(ctx context.Context) (*Token, error)
}

// DeferredCapturer is implemented by adapters whose charges authorize first
// and settle on an explicit capture.
type DeferredCapturer interface {
	DeferredCapture() bool
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
}
