package feed

import (
	"errors"

	"github.com/segmentio/encoding/json"

	"bnstream.com/pkg/xerr"
)

const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
)

// Request is the command envelope written for every Call.
type Request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     uint64 `json:"id"`
}

func EncodeRequest(r Request) ([]byte, error) {
	if r.Params == nil {
		r.Params = []any{}
	}
	return json.Marshal(r)
}

func DecodeRequest(b []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return Request{}, xerr.Wrap(err, xerr.ParseError, "decode request")
	}
	return r, nil
}

type bnDepth struct {
	LastUpdateID *uint64       `json:"lastUpdateId"`
	Bids         *[]PriceLevel `json:"bids"`
	Asks         *[]PriceLevel `json:"asks"`
}

var errNotDepth = errors.New("missing lastUpdateId/bids/asks")

// DecodeDepth parses a partial book depth payload. Frames of any other shape,
// including the {"result":null,"id":..} subscribe reply, fail with ParseError.
func DecodeDepth(b []byte) (DepthEvent, error) {
	var d bnDepth
	if err := json.Unmarshal(b, &d); err != nil {
		return DepthEvent{}, xerr.Wrap(err, xerr.ParseError, "decode depth")
	}
	if d.LastUpdateID == nil || d.Bids == nil || d.Asks == nil {
		return DepthEvent{}, xerr.Wrap(errNotDepth, xerr.ParseError, "decode depth")
	}
	return DepthEvent{
		LastUpdateID: *d.LastUpdateID,
		Bids:         *d.Bids,
		Asks:         *d.Asks,
	}, nil
}

type bnAggTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggID        int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	BuyerMaker   bool   `json:"m"`
}

var errNotAggTrade = errors.New("not aggTrade")

func DecodeAggTrade(b []byte) (AggTradeEvent, error) {
	var a bnAggTrade
	if err := json.Unmarshal(b, &a); err != nil {
		return AggTradeEvent{}, xerr.Wrap(err, xerr.ParseError, "decode aggTrade")
	}
	if a.EventType != "aggTrade" {
		return AggTradeEvent{}, xerr.Wrap(errNotAggTrade, xerr.ParseError, "decode aggTrade")
	}
	return AggTradeEvent{
		EventTimeMs:  a.EventTime,
		Symbol:       a.Symbol,
		AggID:        a.AggID,
		Price:        a.Price,
		Qty:          a.Qty,
		FirstTradeID: a.FirstTradeID,
		LastTradeID:  a.LastTradeID,
		TradeTimeMs:  a.TradeTime,
		BuyerMaker:   a.BuyerMaker,
	}, nil
}
