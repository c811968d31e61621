package messaging

import (
	"github.com/ichao15/slwl/protocol"
)

// Subscriber is the inbound half of Client.
type Subscriber interface {
	Subscribe(topic string, handler Handler) error
}

// Consumer subscribes to the inbound topic and feeds every message through
// the protocol ingestor.
type Consumer struct {
	client   Subscriber
	topic    string
	ingestor *protocol.Ingestor
}

func NewConsumer(client Subscriber, topic string, handler protocol.MessageHandler) *Consumer {
	return &Consumer{
		client:   client,
		topic:    topic,
		ingestor: protocol.NewIngestor(handler, dispatchOnly),
	}
}

func (c *Consumer) Start() error {
	return c.client.Subscribe(c.topic, c.ingestor.HandleRaw)
}

// dispatchOnly accepts messages addressed to the dispatch role or to nobody.
func dispatchOnly(hdr *protocol.RawHeader) bool {
	return hdr.Dst.Role == "" || hdr.Dst.Role == protocol.RoleDispatch
}
