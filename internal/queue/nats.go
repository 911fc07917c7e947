// Package queue carries investigation requests into the orchestrator and
// status messages out, over NATS. Requests use a queue group so that exactly
// one orchestrator instance picks up each investigation.
package queue

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

type NATS struct {
	conn   *nats.Conn
	config config.NATSConfig
	sub    *nats.Subscription
}

func NewNATS(cfg config.NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("inquest-orchestrator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATS{
		conn:   conn,
		config: cfg,
	}, nil
}

// PublishRequest publishes an investigation request to the intake subject
func (n *NATS) PublishRequest(ctx context.Context, req *models.InvestigationRequest) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal investigation request: %w", err)
	}

	if err := n.conn.Publish(n.config.RequestsSubject, data); err != nil {
		return fmt.Errorf("failed to publish investigation request: %w", err)
	}
	return nil
}

// ConsumeRequests subscribes to the intake subject and delivers decoded
// requests on the returned channel until the context is cancelled. Undecodable
// messages are logged and skipped.
func (n *NATS) ConsumeRequests(ctx context.Context) (<-chan *models.InvestigationRequest, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanQueueSubscribe(n.config.RequestsSubject, n.config.QueueGroup, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.config.RequestsSubject, err)
	}
	n.sub = sub

	requests := make(chan *models.InvestigationRequest)
	go func() {
		defer close(requests)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				req := &models.InvestigationRequest{}
				if err := req.FromJSON(msg.Data); err != nil {
					logging.Error().Err(err).Msg("discarding malformed investigation request")
					continue
				}
				select {
				case requests <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return requests, nil
}

// PublishStatus publishes an orchestrator status message
func (n *NATS) PublishStatus(ctx context.Context, status *models.StatusMessage) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := n.conn.Publish(n.config.StatusSubject, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil && !n.conn.IsClosed() {
			logging.Warn().Err(err).Msg("failed to unsubscribe from requests subject")
		}
	}
	return n.conn.Drain()
}
