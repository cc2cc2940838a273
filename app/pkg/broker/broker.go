// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package broker wraps a single long-lived AMQP connection: durable-queue
// declare, publish, and consume, with connect retry and a connection-close
// notification channel the caller uses to trigger a restart. A connection
// blocked by the server is not observed.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sk-pkg/logger"
	"go.uber.org/zap"
)

// Config describes one broker connection and the queues BrokerGateway
// exchanges with it.
type Config struct {
	URL                string
	ProjectQueue       string
	DataGatheringQueue string
	CompensationQueue  string
	HeartbeatSeconds   int
	ReconnectDelay     time.Duration
	ReconnectRetries   int
}

// Client owns one AMQP connection and channel, declared durable against
// the three configured queues.
type Client struct {
	cfg    Config
	logger *logger.Manager

	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a Client. Call Connect before Publish/Consume.
func New(cfg Config, log *logger.Manager) *Client {
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ReconnectRetries <= 0 {
		cfg.ReconnectRetries = 3
	}
	return &Client{cfg: cfg, logger: log}
}

// Connect dials the broker with retry-with-backoff, mirroring the
// teacher's MySQL connect-retry policy, then declares the three
// configured queues durable.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.ReconnectRetries; attempt++ {
		conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
			Heartbeat: time.Duration(c.cfg.HeartbeatSeconds) * time.Second,
		})
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				if declErr := declareQueues(ch, c.cfg); declErr == nil {
					c.conn = conn
					c.ch = ch
					return nil
				} else {
					err = declErr
				}
			} else {
				err = chErr
			}
			_ = conn.Close()
		}

		lastErr = err
		if attempt == c.cfg.ReconnectRetries {
			break
		}

		c.logger.Warn(ctx, "broker connection failed, preparing retry",
			zap.String("url", redactURL(c.cfg.URL)),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", c.cfg.ReconnectRetries),
			zap.Duration("retryAfter", c.cfg.ReconnectDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}

	return fmt.Errorf("broker: connect: %w", lastErr)
}

func declareQueues(ch *amqp.Channel, cfg Config) error {
	for _, name := range []string{cfg.ProjectQueue, cfg.DataGatheringQueue, cfg.CompensationQueue} {
		if name == "" {
			continue
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare queue %q: %w", name, err)
		}
	}
	return nil
}

// Consume opens a consumer on queue with autoAck disabled: each delivery
// stays unacknowledged until the caller acks it.
func (c *Client) Consume(queue string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: consume %q: %w", queue, err)
	}
	return deliveries, nil
}

// Publish sends body to queue as a persistent message.
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish %q: %w", queue, err)
	}
	return nil
}

// NotifyClose returns a channel that receives at most one error when the
// underlying connection closes. A connection blocked by the server is not
// reported on it.
func (c *Client) NotifyClose() chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// redactURL strips AMQP URL userinfo before it ever reaches a log line.
func redactURL(raw string) string {
	at := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return raw
	}
	scheme := "amqp://"
	for _, s := range []string{"amqps://", "amqp://"} {
		if len(raw) >= len(s) && raw[:len(s)] == s {
			scheme = s
			break
		}
	}
	return scheme + "***@" + raw[at+1:]
}
