// Package broker answers balance requests received from an AMQP compliant
// broker (ie RabbitMQ).
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Balancer resolves balances
type Balancer interface {
	GetBalance(ctx context.Context, net types.Network, address, currency string) (model.Balance, error)
}

// Request is the body of a balance request message
type Request struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Currency string `json:"currency,omitempty"`
}

// Reply is published to the request's reply-to queue
type Reply struct {
	Balance *model.Balance `json:"balance,omitempty"`
	Error   string         `json:"error,omitempty"`
}

var errNoAddress = errors.New("network and address are required")

// publisher is the part of amqp.Channel used to send replies
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer implements a connection to a broker and a channel for reuse.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	pub     publisher
	queue   string
	svc     Balancer
	timeout time.Duration
	log     *logrus.Logger
}

// Dial connects to the broker at uri. Requests are consumed from queue.
func Dial(uri, queue string, svc Balancer, timeout time.Duration, log *logrus.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	c := newConsumer(ch, queue, svc, timeout, log)
	c.conn, c.ch = conn, ch
	c.log.Infof("Connected to AMQP broker, consuming %s", queue)
	return c, nil
}

func newConsumer(pub publisher, queue string, svc Balancer, timeout time.Duration, log *logrus.Logger) *Consumer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{pub: pub, queue: queue, svc: svc, timeout: timeout, log: log}
}

// Run consumes requests until ctx is done or the broker closes the channel.
// Each message is acknowledged only after its reply has been published.
func (c *Consumer) Run(ctx context.Context) error {
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.Qos(1, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(c.queue, "chain-explorer", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle answers one delivery
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	body, err := c.answer(ctx, d.Body)
	if err != nil && ctx.Err() != nil {
		c.log.Infof("Requeueing request %s interrupted by shutdown", d.MessageId)
		if err := d.Nack(false, true); err != nil {
			c.log.Errorf("Error requeueing message: %v", err)
		}
		return
	}
	if err != nil {
		c.log.Warnf("Dropping undecodable request %s: %v", d.MessageId, err)
		if err := d.Nack(false, false); err != nil {
			c.log.Errorf("Error rejecting message: %v", err)
		}
		return
	}
	if d.ReplyTo != "" {
		msg := amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		}
		if err := c.pub.Publish("", d.ReplyTo, false, false, msg); err != nil {
			c.log.Errorf("Error publishing reply to %s: %v", d.ReplyTo, err)
			if err := d.Nack(false, true); err != nil {
				c.log.Errorf("Error requeueing message: %v", err)
			}
			return
		}
	}
	if err := d.Ack(false); err != nil {
		c.log.Errorf("Error acknowledging message: %v", err)
	}
}

// answer resolves the request in body. An undecodable body or a cancelled ctx
// is an error; explorer failures are carried in the reply.
func (c *Consumer) answer(ctx context.Context, body []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	var rep Reply
	if req.Network == "" || req.Address == "" {
		rep.Error = errNoAddress.Error()
		return json.Marshal(rep)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	bal, err := c.svc.GetBalance(cctx, types.ParseNetwork(req.Network), req.Address, req.Currency)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rep.Error = err.Error()
	} else {
		rep.Balance = &bal
	}
	return json.Marshal(rep)
}

// Close terminates gracefully the connection to the AMQP message broker
func (c *Consumer) Close() error {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.log.Errorf("Error closing amqp.Channel: %v", err)
		}
		c.ch = nil
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
