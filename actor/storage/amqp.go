package storage

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

const defaultRoutingKey = "plexity.dataset"

// AMQPDataset publishes each item as a persistent JSON message. With an
// empty exchange the default exchange is used and the routing key names
// the queue, which is declared durable.
type AMQPDataset struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewAMQPDataset dials the broker and declares the exchange or queue.
func NewAMQPDataset(cfg config.AMQPConfig, logger *zap.Logger) (*AMQPDataset, error) {
	if cfg.URL == "" {
		return nil, errors.NewConfigError("amqp url must not be empty", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.NewStorageError(config.StoreAMQP, "connect to broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.NewStorageError(config.StoreAMQP, "open channel", err)
	}

	if cfg.Exchange != "" {
		err = ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	} else {
		_, err = ch.QueueDeclare(routingKey, true, false, false, false, nil)
	}
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.NewStorageError(config.StoreAMQP, "declare destination", err)
	}

	return &AMQPDataset{
		conn:       conn,
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// PushData implements Dataset.
func (d *AMQPDataset) PushData(ctx context.Context, item any) error {
	body, err := json.Marshal(item)
	if err != nil {
		return errors.NewStorageError(config.StoreAMQP, "encode dataset item", err)
	}

	msg := newDatasetMessage(body, RunIDFrom(ctx), time.Now())
	if err := d.ch.PublishWithContext(ctx, d.exchange, d.routingKey, false, false, msg); err != nil {
		return errors.NewStorageError(config.StoreAMQP, "publish dataset item", err)
	}
	d.logger.Debug("published dataset item",
		zap.String("exchange", d.exchange),
		zap.String("routing_key", d.routingKey),
		zap.String("run_id", msg.MessageId),
	)
	return nil
}

func newDatasetMessage(body []byte, runID string, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    runID,
		Timestamp:    now,
		Type:         "dataset_item",
		Body:         body,
	}
}

func (d *AMQPDataset) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
