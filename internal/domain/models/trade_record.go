package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the system a trade record was reported by.
type Source string

const (
	SourceOMS         Source = "oms"
	SourceCustodian   Source = "custodian"
	SourcePrimeBroker Source = "prime_broker"
	SourceExchange    Source = "exchange"
	SourceManual      Source = "manual"
)

// ParseSource validates and converts a raw source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceOMS, SourceCustodian, SourcePrimeBroker, SourceExchange, SourceManual:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeRecord is the canonical shape of one trade as reported by a single
// source. Records are immutable once ingested for a run; identity is
// (Source, ExternalRef).
type TradeRecord struct {
	Source         Source
	ExternalRef    string
	TradeDate      time.Time
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Currency       string
	SettlementDate time.Time
	Counterparty   string
}

// Ref returns the record's identity as a SourceRef.
func (r TradeRecord) Ref() SourceRef {
	return SourceRef{Source: r.Source, ExternalRef: r.ExternalRef}
}

// Notional returns quantity × price.
func (r TradeRecord) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price).Abs()
}

// Validate checks required fields. A failing record is rejected individually;
// it never aborts a reconciliation run.
func (r TradeRecord) Validate() error {
	switch {
	case r.Source == "":
		return fmt.Errorf("record %s: missing source", r.ExternalRef)
	case r.ExternalRef == "":
		return fmt.Errorf("record from %s: missing external_ref", r.Source)
	case r.Symbol == "":
		return fmt.Errorf("record %s/%s: missing symbol", r.Source, r.ExternalRef)
	case r.Side != SideBuy && r.Side != SideSell:
		return fmt.Errorf("record %s/%s: invalid side %q", r.Source, r.ExternalRef, r.Side)
	case r.TradeDate.IsZero():
		return fmt.Errorf("record %s/%s: missing trade_date", r.Source, r.ExternalRef)
	case r.Quantity.IsZero() || r.Quantity.IsNegative():
		return fmt.Errorf("record %s/%s: non-positive quantity", r.Source, r.ExternalRef)
	case r.Price.IsZero() || r.Price.IsNegative():
		return fmt.Errorf("record %s/%s: non-positive price", r.Source, r.ExternalRef)
	}
	return nil
}

// SourceRef points at one record in one source system.
type SourceRef struct {
	Source      Source `json:"source"`
	ExternalRef string `json:"external_ref"`
}

func (s SourceRef) String() string {
	return string(s.Source) + ":" + s.ExternalRef
}
