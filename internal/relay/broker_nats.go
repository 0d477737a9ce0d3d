package relay

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"bnstream.com/pkg/logger"
	"bnstream.com/pkg/xerr"
)

const natsBrokerBuffer = 8192

// NatsBroker maps relay topics onto NATS subjects ("depth:btcusdt" is
// published as "depth.btcusdt").
type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ConnectError, "nats connect "+url)
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.nc.Publish(topicToSubject(topic), payload); err != nil {
		return xerr.Wrap(err, xerr.SendError, "nats publish "+topic)
	}
	return nil
}

// Subscribe accepts wildcard topics ("depth:*").
func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, natsBrokerBuffer)
	subs := make([]*nats.Subscription, 0, len(topics))

	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			// never block the nats callback goroutine
			select {
			case out <- Message{Topic: subjectToTopic(m.Subject), Payload: m.Data}:
			default:
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, xerr.Wrap(err, xerr.SendError, "nats subscribe "+t)
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}()
	return out, nil
}

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		logger.Warn(context.Background(), "nats drain", zap.Error(err))
	}
	b.nc.Close()
	return nil
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
