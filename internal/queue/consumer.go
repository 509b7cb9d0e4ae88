package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Delivery is the part of an AMQP message a handler sees.
type Delivery struct {
	Key   string
	Body  []byte
	ReqID string
}

// Handler processes one event. Returning ErrDrop acks a message that should
// not be retried; any other error requeues it once.
type Handler func(ctx context.Context, d Delivery) error

var ErrDrop = errors.New("drop message")

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	q      string
	logger *zap.Logger
}

func NewConsumer(url, exchange, queue, key string, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	qd, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(qd.Name, key, exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	return &Consumer{conn: conn, ch: ch, q: qd.Name, logger: logger}, nil
}

func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Consume runs workers goroutines over the queue until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, workers int, handle Handler) error {
	if c == nil || c.ch == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if workers <= 0 {
		workers = 1
	}
	if err := c.ch.Qos(workers*10, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := c.ch.Consume(c.q, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-msgs:
					if !ok {
						return
					}
					c.dispatch(ctx, d, handle)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, handle Handler) {
	reqID, _ := d.Headers["X-Request-ID"].(string)
	err := handle(ctx, Delivery{Key: d.RoutingKey, Body: d.Body, ReqID: reqID})
	switch {
	case err == nil, errors.Is(err, ErrDrop):
		if err != nil {
			c.logger.Warn("dropping event", zap.String("key", d.RoutingKey), zap.Error(err))
		}
		_ = d.Ack(false)
	case d.Redelivered:
		c.logger.Error("event failed twice, dropping", zap.String("key", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false)
	default:
		c.logger.Warn("event failed, requeueing", zap.String("key", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, true)
	}
}
