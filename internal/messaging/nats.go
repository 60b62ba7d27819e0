package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// NATSClient publishes sync run events for downstream consumers
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// initializeStreams creates the SYNC JetStream stream if missing
func (nc *NATSClient) initializeStreams() error {
	stream := &nats.StreamConfig{
		Name:      "SYNC",
		Subjects:  []string{"sync.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	}

	if _, err := nc.js.StreamInfo(stream.Name); err != nil {
		if _, err := nc.js.AddStream(stream); err != nil {
			return fmt.Errorf("failed to create SYNC stream: %w", err)
		}
		nc.logger.WithField("stream", stream.Name).Info("Created JetStream stream")
	}

	return nil
}

// PublishSyncReport publishes a completed run report
func (nc *NATSClient) PublishSyncReport(report *models.SyncReport) error {
	subject := fmt.Sprintf("sync.report.%s", report.AssetID)
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal sync report: %w", err)
	}

	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish sync report: %w", err)
	}

	return nil
}

// PublishSyncError publishes a run-level failure
func (nc *NATSClient) PublishSyncError(assetID string, errorMsg string) error {
	subject := fmt.Sprintf("sync.error.%s", assetID)
	data, err := json.Marshal(map[string]interface{}{
		"asset_id":  assetID,
		"error":     errorMsg,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync error: %w", err)
	}

	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish sync error: %w", err)
	}

	return nil
}

// SubscribeSyncReports subscribes to run reports for all assets
func (nc *NATSClient) SubscribeSyncReports(handler func(*models.SyncReport)) error {
	subject := "sync.report.*"

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var report models.SyncReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal sync report")
			return
		}
		handler(&report)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to sync reports: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}
