package feed

import (
	"strings"
	"testing"
)

func TestDepthTopic(t *testing.T) {
	symbols := []string{"btcusdt", "BTCUSDT", "EthBtc", "1000SHIBUSDT", ""}
	for _, s := range symbols {
		for _, l := range []Levels{L5, L10, L20} {
			got := DepthTopic(s, l)
			want := strings.ToLower(s) + "@depth" + l.String() + "@1000ms"
			if got != want {
				t.Fatalf("DepthTopic(%q,%d) want=%q got=%q", s, l, want, got)
			}
		}
	}

	if got := DepthTopic("BNBBTC", L20); got != "bnbbtc@depth20@1000ms" {
		t.Fatalf("got %q", got)
	}
}

func TestLevels_Valid(t *testing.T) {
	for _, l := range []Levels{L5, L10, L20} {
		if !l.Valid() {
			t.Fatalf("%d should be valid", l)
		}
	}
	for _, l := range []Levels{0, 1, 15, 50} {
		if l.Valid() {
			t.Fatalf("%d should be invalid", l)
		}
	}
}

func TestAggTradeTopic(t *testing.T) {
	if got := AggTradeTopic("BTCUSDT"); got != "btcusdt@aggTrade" {
		t.Fatalf("got %q", got)
	}
}
