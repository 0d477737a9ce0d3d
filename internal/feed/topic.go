package feed

import (
	"strconv"
	"strings"
)

// Levels is the book depth of a partial depth stream.
type Levels int

const (
	L5  Levels = 5
	L10 Levels = 10
	L20 Levels = 20
)

func (l Levels) Valid() bool {
	switch l {
	case L5, L10, L20:
		return true
	}
	return false
}

func (l Levels) String() string { return strconv.Itoa(int(l)) }

// DepthTopic names the 1000ms partial book depth stream for symbol,
// e.g. DepthTopic("BTCUSDT", L10) == "btcusdt@depth10@1000ms".
func DepthTopic(symbol string, levels Levels) string {
	return normalizeSymbol(symbol) + "@depth" + levels.String() + "@1000ms"
}

// AggTradeTopic names the aggregate trade stream for symbol.
func AggTradeTopic(symbol string) string {
	return normalizeSymbol(symbol) + "@aggTrade"
}

func normalizeSymbol(s string) string {
	return strings.ToLower(s)
}
