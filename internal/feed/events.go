package feed

import (
	"github.com/shopspring/decimal"
)

// PriceLevel is one [price, quantity] pair exactly as sent on the wire.
// Values stay strings; use Decimal when numeric work is needed.
type PriceLevel [2]string

func (l PriceLevel) Price() string { return l[0] }
func (l PriceLevel) Qty() string   { return l[1] }

// Decimal parses both sides of the level.
func (l PriceLevel) Decimal() (price, qty decimal.Decimal, err error) {
	if price, err = decimal.NewFromString(l[0]); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	if qty, err = decimal.NewFromString(l[1]); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return price, qty, nil
}

// DepthEvent is a partial order book snapshot (<symbol>@depth<levels>).
// Bids are best-first descending, asks best-first ascending, as delivered.
type DepthEvent struct {
	LastUpdateID uint64       `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

func (e DepthEvent) BestBid() (PriceLevel, bool) {
	if len(e.Bids) == 0 {
		return PriceLevel{}, false
	}
	return e.Bids[0], true
}

func (e DepthEvent) BestAsk() (PriceLevel, bool) {
	if len(e.Asks) == 0 {
		return PriceLevel{}, false
	}
	return e.Asks[0], true
}

// AggTradeEvent is one <symbol>@aggTrade message.
// BuyerMaker=true means the buyer was the maker (sell-side taker).
type AggTradeEvent struct {
	EventTimeMs  int64  `json:"eventTime"`
	Symbol       string `json:"symbol"`
	AggID        int64  `json:"aggId"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	FirstTradeID int64  `json:"firstTradeId"`
	LastTradeID  int64  `json:"lastTradeId"`
	TradeTimeMs  int64  `json:"tradeTime"`
	BuyerMaker   bool   `json:"buyerMaker"`
}
