package feed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnstream.com/pkg/xerr"
)

const depthPayload = `{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`

func TestEncodeRequest_Wire(t *testing.T) {
	b, err := EncodeRequest(Request{Method: MethodSubscribe, Params: []any{"btcusdt@depth10@1000ms"}, ID: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@depth10@1000ms"],"id":7}`, string(b))

	b, err = EncodeRequest(Request{Method: "LIST_SUBSCRIPTIONS", ID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"LIST_SUBSCRIPTIONS","params":[],"id":1}`, string(b))
}

func TestRequest_RoundTrip(t *testing.T) {
	cases := []Request{
		{Method: MethodSubscribe, Params: []any{"btcusdt@depth5@1000ms"}, ID: 0},
		{Method: MethodUnsubscribe, Params: []any{"a@aggTrade", "b@aggTrade"}, ID: 123456789},
		{Method: MethodSubscribe, Params: []any{"ethusdt@depth20@1000ms"}, ID: math.MaxUint64},
	}
	for _, want := range cases {
		b, err := EncodeRequest(want)
		require.NoError(t, err)

		got, err := DecodeRequest(b)
		require.NoError(t, err)
		assert.Equal(t, want.Method, got.Method)
		assert.Equal(t, want.Params, got.Params)
		assert.Equal(t, want.ID, got.ID, "id must survive without float rounding")
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"method":`))
	assert.True(t, xerr.IsCode(err, xerr.ParseError))
}

func TestDecodeDepth(t *testing.T) {
	ev, err := DecodeDepth([]byte(depthPayload))
	require.NoError(t, err)

	assert.Equal(t, uint64(1027024), ev.LastUpdateID)
	require.Len(t, ev.Bids, 1)
	require.Len(t, ev.Asks, 1)
	assert.Equal(t, "4.00000000", ev.Bids[0].Price())
	assert.Equal(t, "431.00000000", ev.Bids[0].Qty())
	assert.Equal(t, "4.00000200", ev.Asks[0].Price())
	assert.Equal(t, "12.00000000", ev.Asks[0].Qty())
}

func TestDecodeDepth_Rejects(t *testing.T) {
	cases := map[string]string{
		"subscribe_reply": `{"result":null,"id":42}`,
		"missing_asks":    `{"lastUpdateId":1,"bids":[]}`,
		"missing_bids":    `{"lastUpdateId":1,"asks":[]}`,
		"missing_id":      `{"bids":[],"asks":[]}`,
		"agg_trade":       `{"e":"aggTrade","E":1,"s":"BTCUSDT","a":1,"p":"1","q":"1","f":1,"l":1,"T":1,"m":true}`,
		"not_json":        `ping`,
		"bad_level":       `{"lastUpdateId":1,"bids":[[1,2]],"asks":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDepth([]byte(raw))
			require.Error(t, err)
			assert.True(t, xerr.IsCode(err, xerr.ParseError))
		})
	}
}

func TestDecodeDepth_EmptySides(t *testing.T) {
	ev, err := DecodeDepth([]byte(`{"lastUpdateId":5,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	assert.Empty(t, ev.Bids)
	_, ok := ev.BestBid()
	assert.False(t, ok)
}

func TestDecodeAggTrade(t *testing.T) {
	raw := `{"e":"aggTrade","E":1672515782136,"s":"BNBBTC","a":12345,"p":"0.001","q":"100","f":100,"l":105,"T":1672515782136,"m":true,"M":true}`
	ev, err := DecodeAggTrade([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "BNBBTC", ev.Symbol)
	assert.Equal(t, int64(12345), ev.AggID)
	assert.Equal(t, "0.001", ev.Price)
	assert.Equal(t, "100", ev.Qty)
	assert.Equal(t, int64(100), ev.FirstTradeID)
	assert.Equal(t, int64(105), ev.LastTradeID)
	assert.True(t, ev.BuyerMaker)

	_, err = DecodeAggTrade([]byte(depthPayload))
	assert.True(t, xerr.IsCode(err, xerr.ParseError))
}

func TestPriceLevel_Decimal(t *testing.T) {
	ev, err := DecodeDepth([]byte(depthPayload))
	require.NoError(t, err)

	bid, _ := ev.BestBid()
	ask, _ := ev.BestAsk()
	bp, bq, err := bid.Decimal()
	require.NoError(t, err)
	ap, _, err := ask.Decimal()
	require.NoError(t, err)

	assert.Equal(t, "431", bq.String())
	assert.Equal(t, "0.000002", ap.Sub(bp).String())

	_, _, err = PriceLevel{"x", "1"}.Decimal()
	assert.Error(t, err)
}
