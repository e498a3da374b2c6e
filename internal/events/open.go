package events

import (
	"context"
	"fmt"

	"github.com/davidahmann/surety/internal/logger"
)

const (
	DriverMemory = "memory"
	DriverAMQP   = "amqp"
	DriverRedis  = "redis"
)

type Options struct {
	Driver        string
	URL           string
	Exchange      string
	ChannelPrefix string
	// Queue is the durable AMQP queue for subscribers. Empty means exclusive per subscription.
	Queue string
	Log   logger.Logger
}

// Broker pairs a Publisher and a Subscriber over one transport.
type Broker struct {
	Publisher
	Subscriber
	close func() error
}

func (b *Broker) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects the transport named by opts.Driver.
func Open(ctx context.Context, opts Options) (*Broker, error) {
	switch opts.Driver {
	case "", DriverMemory:
		bus := NewBus()
		return &Broker{Publisher: bus, Subscriber: bus}, nil
	case DriverAMQP:
		pub, err := DialAMQP(opts.URL, opts.Exchange)
		if err != nil {
			return nil, err
		}
		sub := &AMQPSubscriber{URL: opts.URL, Exchange: opts.Exchange, Queue: opts.Queue, Log: opts.Log}
		return &Broker{Publisher: pub, Subscriber: sub, close: pub.Close}, nil
	case DriverRedis:
		client, err := NewRedisClient(ctx, opts.URL)
		if err != nil {
			return nil, err
		}
		bus := &RedisBus{Client: client, Prefix: opts.ChannelPrefix, Log: opts.Log}
		return &Broker{Publisher: bus, Subscriber: bus, close: client.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", opts.Driver)
	}
}
