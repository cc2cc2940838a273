// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package brokergateway implements BrokerGateway (§4.5): the boundary
// between the AMQP broker and the Supervisor's envelope bus. It runs as
// two worker classes rather than one process, matching how the two
// directions actually behave:
//
//   - "BrokerGateway" (Publish) receives completed/compensate envelopes
//     addressed to it and republishes their payload to the configured
//     downstream or compensation queue.
//   - "BrokerGatewayIngest" (Ingest) owns the project_queue consumer; it
//     never receives envelopes itself, it only emits CrawlWorker job
//     envelopes onto the bus. A closed connection ends the instance's
//     body (after reporting an error envelope on itself), which the
//     Supervisor's ordinary exit/respawn path restarts. A connection
//     blocked by the server is not observed and triggers no restart.
package brokergateway

import (
	"context"
	"encoding/json"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sk-pkg/logger"
	"go.uber.org/zap"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/envelope"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/broker"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/e"
)

// Client is the subset of broker.Client the gateway depends on.
type Client interface {
	Connect(ctx context.Context) error
	Consume(queue string) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, queue string, body []byte) error
	NotifyClose() chan *amqp.Error
	Close() error
}

// Config names the three queues BrokerGateway exchanges with.
type Config struct {
	ProjectQueue       string
	DataGatheringQueue string
	CompensationQueue  string
}

// NewPublish builds the WorkerFunc body for the "BrokerGateway" class: it
// republishes envelopes addressed to BrokerGateway/produce_data/<id> or
// BrokerGateway/compensate, then acks completion back to the supervisor.
func NewPublish(client Client, cfg Config, log *logger.Manager) func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope) {
	return func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-in:
				publish(ctx, client, cfg, id, msg, log, out)
			}
		}
	}
}

func publish(ctx context.Context, client Client, cfg Config, id string, msg envelope.Envelope, log *logger.Manager, out chan<- envelope.Envelope) {
	method := methodOf(msg)

	queue := cfg.DataGatheringQueue
	if method == "compensate" {
		queue = cfg.CompensationQueue
	}

	body, err := json.Marshal(msg.Data)
	if err != nil {
		log.Error(ctx, "broker gateway: marshal outbound payload failed", zap.String("method", method), zap.Error(err))
		out <- ack(msg, id, envelope.StatusFailed, e.ReasonBadInput)
		return
	}

	if err := client.Publish(ctx, queue, body); err != nil {
		log.Error(ctx, "broker gateway: publish failed", zap.String("queue", queue), zap.Error(err))
		out <- ack(msg, id, envelope.StatusFailed, e.ReasonTransport)
		return
	}

	out <- ack(msg, id, envelope.StatusCompleted, "")
}

// methodOf extracts the routing method segment ("produce_data",
// "compensate") from the first destination path.
func methodOf(msg envelope.Envelope) string {
	if len(msg.Destination) == 0 {
		return ""
	}
	parts := strings.Split(msg.Destination[0], "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func ack(original envelope.Envelope, id string, status envelope.Status, reason string) envelope.Envelope {
	reply := envelope.New(status, []string{"supervisor"}, nil).WithSender(id)
	reply.MessageID = original.MessageID
	if reason != "" {
		reply = reply.WithReason(reason)
	}
	return reply
}

// NewIngest builds the WorkerFunc body for the "BrokerGatewayIngest"
// class: it connects, consumes ProjectQueue, and emits one
// CrawlWorker/crawling envelope per delivery. It ignores in entirely —
// nothing ever addresses an ingest instance directly.
func NewIngest(client Client, cfg Config, log *logger.Manager) func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope) {
	return func(ctx context.Context, id string, in <-chan envelope.Envelope, out chan<- envelope.Envelope) {
		if err := client.Connect(ctx); err != nil {
			log.Error(ctx, "broker gateway ingest: connect failed", zap.Error(err))
			out <- envelope.New(envelope.StatusError, []string{"BrokerGatewayIngest/consume"}, nil).WithSender(id)
			return
		}
		defer client.Close()

		deliveries, err := client.Consume(cfg.ProjectQueue)
		if err != nil {
			log.Error(ctx, "broker gateway ingest: consume failed", zap.Error(err))
			out <- envelope.New(envelope.StatusError, []string{"BrokerGatewayIngest/consume"}, nil).WithSender(id)
			return
		}

		closed := client.NotifyClose()

		for {
			select {
			case <-ctx.Done():
				return
			case amqpErr, ok := <-closed:
				if ok {
					log.Warn(ctx, "broker gateway ingest: connection closed", zap.Error(amqpErr))
				}
				out <- envelope.New(envelope.StatusError, []string{"BrokerGatewayIngest/consume"}, nil).WithSender(id)
				return
			case delivery, ok := <-deliveries:
				if !ok {
					out <- envelope.New(envelope.StatusError, []string{"BrokerGatewayIngest/consume"}, nil).WithSender(id)
					return
				}

				var payload map[string]interface{}
				if err := json.Unmarshal(delivery.Body, &payload); err != nil {
					log.Warn(ctx, "broker gateway ingest: dropping undecodable delivery", zap.Error(err))
					_ = delivery.Nack(false, false)
					continue
				}

				out <- envelope.New(envelope.StatusPending, []string{"CrawlWorker/crawling"}, payload)
				_ = delivery.Ack(false)
			}
		}
	}
}

