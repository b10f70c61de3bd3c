// Package amqp publishes and consumes "offerings committed" events over
// RabbitMQ. Publishing sits behind a small circuit breaker so a broker
// outage never slows down a commit.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"

	"offertory/internal/commit"
	"offertory/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time

	logger *slog.Logger
}

var _ commit.Notifier = (*Client)(nil)

// NewClient dials the broker and declares the exchange and queue.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       log.Component(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) lg() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchangeName, queueName string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name on a direct exchange
	if err := channel.QueueBind(queueName, queueName, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// drop forgets a broken connection so the next call redials.
func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Committed publishes the commit event. It satisfies commit.Notifier.
func (c *Client) Committed(ctx context.Context, e commit.Event) error {
	return c.Publish(ctx, NewCommittedMessage(e))
}

func (c *Client) Publish(ctx context.Context, msg *CommittedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish committed message: %w", ErrCircuitOpen)
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.connect(); err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.currentChannel().PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.drop()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.lg().InfoContext(ctx, "Published committed message",
		log.FieldCount, msg.Count,
		log.FieldDate, msg.Date,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// Handler processes one committed message. Returning an error requeues it.
type Handler func(ctx context.Context, msg *CommittedMessage) error

// Consume delivers messages to handler until ctx is done or the channel
// closes.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	if err := c.connect(); err != nil {
		return err
	}

	msgs, err := c.currentChannel().Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.lg().InfoContext(ctx, "Started consuming committed messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.lg().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed: %w", amqp091.ErrClosed)
			}

			msg, err := CommittedMessageFromJSON(delivery.Body)
			if err != nil {
				c.lg().ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.lg().ErrorContext(ctx, "Failed to handle message",
					log.FieldError, err,
					log.FieldCount, msg.Count)
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
		}
	}
}

// healthySession is how long a consume session must last before the next
// disconnect is treated as a fresh failure rather than another retry.
const healthySession = time.Minute

// ConsumeWithReconnect keeps consuming across broker restarts, waiting
// between attempts with exponential backoff.
func (c *Client) ConsumeWithReconnect(ctx context.Context, handler Handler) error {
	sb := newSessionBackOff(healthySession, time.Now)
	b := backoff.WithContext(sb, ctx)
	return backoff.RetryNotify(func() error {
		sb.begin()
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if isConnectionError(err) {
			c.drop()
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		c.lg().WarnContext(ctx, "AMQP consumer disconnected, retrying",
			log.FieldError, err, "wait", wait)
	})
}

// newBackOff waits 1s, 2s, 4s and so on up to 30s, forever.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sessionBackOff restarts the schedule once a session outlived healthy.
type sessionBackOff struct {
	*backoff.ExponentialBackOff
	healthy time.Duration
	now     func() time.Time
	started time.Time
}

func newSessionBackOff(healthy time.Duration, now func() time.Time) *sessionBackOff {
	return &sessionBackOff{ExponentialBackOff: newBackOff(), healthy: healthy, now: now, started: now()}
}

func (s *sessionBackOff) begin() { s.started = s.now() }

func (s *sessionBackOff) NextBackOff() time.Duration {
	if s.now().Sub(s.started) >= s.healthy {
		s.ExponentialBackOff.Reset()
	}
	return s.ExponentialBackOff.NextBackOff()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
