// Package relay forwards decoded feed events to a message broker so that
// other processes can consume them without holding their own exchange
// connection.
package relay

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker is an at-most-once pub/sub transport. Topics use ':' as separator,
// e.g. "depth:btcusdt".
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers messages for topics until ctx is done, then closes
	// the channel.
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}

// DepthTopic is the relay topic carrying depth events of symbol.
func DepthTopic(symbol string) string { return "depth:" + symbol }

// AggTradeTopic is the relay topic carrying aggregate trades of symbol.
func AggTradeTopic(symbol string) string { return "aggtrade:" + symbol }
