// Package models provides domain models for the trading simulator.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the side of an order or trade.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Direction is the predicted price direction of an instrument.
type Direction string

const (
	DirectionLong  Direction = "Long"
	DirectionShort Direction = "Short"
)

// Side maps a direction onto the order side that profits from it.
func (d Direction) Side() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// Quote is a raw market-data record for one symbol, before scoring.
type Quote struct {
	Symbol       string
	Price        decimal.Decimal
	DailyVolume  decimal.Decimal
	Volatility   float64 // fractional 24h range, 0.03 == 3%
	MaxLeverage  int
	MinOrderSize decimal.Decimal
}

// Prediction is the opaque output of a predictive-scoring provider.
type Prediction struct {
	Confidence   float64 // [0,1]
	Direction    Direction
	ExpectedMove float64 // uncertainty-adjusted fractional move
	Source       string
}

// Instrument is a scored, eligible candidate published by the asset catalog.
// Values are snapshots; they are never mutated after publication.
type Instrument struct {
	Symbol          string
	Price           decimal.Decimal
	DailyVolume     decimal.Decimal
	Volatility      float64
	MaxLeverage     int
	MinOrderSize    decimal.Decimal
	ConfidenceScore float64
	Prediction      Prediction
	LastUpdated     time.Time
}

// Signal is the ephemeral result of evaluating one instrument.
type Signal struct {
	Symbol         string
	ShouldTrade    bool
	Direction      Direction
	Confidence     float64
	Leverage       int
	TradeCapital   decimal.Decimal
	ExpectedProfit decimal.Decimal
	RiskScore      float64
	Movement       float64 // volatility*confidence*movementFactor
	PredictedMove  float64 // predictor's expected move, informational
	Score          float64
}

// OrderRequest is sent to the order-placement provider.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Leverage int
	Price    decimal.Decimal
}
