package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the trading state reported with a quote.
type MarketStatus string

const (
	MarketOpen        MarketStatus = "OPEN"
	MarketClosed      MarketStatus = "CLOSE"
	MarketPreMarket   MarketStatus = "PRE_MARKET"
	MarketAfterMarket MarketStatus = "AFTER_MARKET"
)

// ParseMarketStatus maps the source's status string; anything unknown is CLOSE.
func ParseMarketStatus(s string) MarketStatus {
	switch MarketStatus(s) {
	case MarketOpen, MarketClosed, MarketPreMarket, MarketAfterMarket:
		return MarketStatus(s)
	}
	return MarketClosed
}

// Quote is a point-in-time price for a ticker. It is never persisted.
type Quote struct {
	TickerID        string
	Name            string
	ClosePrice      decimal.Decimal
	DailyChangeRate decimal.Decimal
	MarketStatus    MarketStatus
	TradedAt        time.Time
}
