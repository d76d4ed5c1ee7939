// internal/channel/consumer.go
package channel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"corretor-hub/internal/common/config"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/ingest"
	"corretor-hub/internal/orchestrator"
)

// inboundEnvelope is the wire shape of an inbound channel message.
type inboundEnvelope struct {
	MessageID      string `json:"message_id"`
	ChannelAddress string `json:"channel_address"`
	Contact        string `json:"contact"`
	Text           string `json:"text"`
	MediaURL       string `json:"media_url,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Consumer reads the inbound message and listing topics and feeds the
// orchestrator and ingestion service.
type Consumer struct {
	messagesReader *kafka.Reader
	listingsReader *kafka.Reader
	orch           *orchestrator.Orchestrator
	ingestSvc      *ingest.Service
	logger         logger.Logger
}

func NewConsumer(cfg config.ChannelConfig, orch *orchestrator.Orchestrator, ingestSvc *ingest.Service, log logger.Logger) *Consumer {
	return &Consumer{
		messagesReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{cfg.Broker},
			Topic:          cfg.MessagesTopic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		listingsReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{cfg.Broker},
			Topic:          cfg.ListingsTopic,
			GroupID:        cfg.GroupID + "-listings",
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		orch:      orch,
		ingestSvc: ingestSvc,
		logger:    log.WithFields(map[string]interface{}{"component": "channel"}),
	}
}

// RunMessages consumes inbound lead messages until the context ends.
// Handler errors are logged and the offset advances: the orchestrator
// never drops a turn silently, so a failed turn was already degraded
// and flagged inside handling.
func (c *Consumer) RunMessages(ctx context.Context) {
	c.logger.Info("inbound message consumer started", nil)
	for {
		msg, err := c.messagesReader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("inbound message consumer stopped", nil)
				return
			}
			c.logger.Error("message read failed", map[string]interface{}{"error": err})
			time.Sleep(time.Second)
			continue
		}

		inbound, err := decodeInbound(msg.Value)
		if err != nil {
			c.logger.Warn("malformed inbound envelope dropped", map[string]interface{}{"error": err})
			continue
		}

		if err := c.orch.HandleInbound(ctx, inbound); err != nil {
			c.logger.Error("inbound handling failed", map[string]interface{}{
				"messageId": inbound.MessageID,
				"error":     err,
			})
		}
	}
}

func decodeInbound(value []byte) (*orchestrator.InboundMessage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, err
	}
	inbound := &orchestrator.InboundMessage{
		MessageID:      env.MessageID,
		ChannelAddress: env.ChannelAddress,
		Contact:        env.Contact,
		Text:           env.Text,
		MediaURL:       env.MediaURL,
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
	}
	if env.Timestamp == 0 {
		inbound.Timestamp = time.Now().UTC()
	}
	return inbound, nil
}

// RunListings consumes scraped property listings until the context ends.
func (c *Consumer) RunListings(ctx context.Context) {
	c.logger.Info("listings consumer started", nil)
	for {
		msg, err := c.listingsReader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("listings consumer stopped", nil)
				return
			}
			c.logger.Error("listing read failed", map[string]interface{}{"error": err})
			time.Sleep(time.Second)
			continue
		}

		if err := c.ingestSvc.HandleListing(ctx, msg.Value); err != nil {
			c.logger.Error("listing ingestion failed", map[string]interface{}{"error": err})
		}
	}
}

// Close releases both readers.
func (c *Consumer) Close() error {
	if err := c.messagesReader.Close(); err != nil {
		return err
	}
	return c.listingsReader.Close()
}
