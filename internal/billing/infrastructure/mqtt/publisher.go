package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/config"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// client is the subset of paho.Client used by the publisher.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends calculated statements to an MQTT broker.
type Publisher struct {
	client      client
	topicPrefix string
}

// StatementPayload is the JSON body published for each statement.
type StatementPayload struct {
	TotalUsageKWh float64 `json:"total_usage_kwh"`
	Rate          float64 `json:"rate"`
	FixedFee      float64 `json:"fixed_fee"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Rows          int     `json:"rows"`
	DroppedRows   int     `json:"dropped_rows"`
	GeneratedAt   string  `json:"generated_at"`
}

// New connects to the configured broker.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt publisher: broker address is required")
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "fixedrate"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	c := paho.NewClient(opts)
	if err := connect(c, connectTimeout); err != nil {
		return nil, err
	}
	return newPublisher(c, cfg.TopicPrefix), nil
}

// connect waits at most timeout for the broker to accept the connection.
func connect(c client, timeout time.Duration) error {
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("connecting to MQTT broker: no answer within %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	return nil
}

func newPublisher(c client, topicPrefix string) *Publisher {
	if topicPrefix == "" {
		topicPrefix = "fixedrate"
	}
	return &Publisher{client: c, topicPrefix: strings.TrimSuffix(topicPrefix, "/")}
}

// Topic returns the topic statements are published on.
func (p *Publisher) Topic() string {
	return p.topicPrefix + "/bill"
}

// PublishStatement publishes stmt as a retained JSON message.
func (p *Publisher) PublishStatement(ctx context.Context, stmt *application.Statement) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt publisher: nil client")
	}
	if stmt == nil {
		return errors.New("mqtt publisher: nil statement")
	}
	body, err := json.Marshal(StatementPayload{
		TotalUsageKWh: stmt.TotalUsage,
		Rate:          stmt.Rate,
		FixedFee:      stmt.FixedFee,
		Amount:        stmt.Amount,
		Currency:      stmt.Currency,
		Rows:          stmt.RowCount,
		DroppedRows:   len(stmt.Dropped),
		GeneratedAt:   stmt.GeneratedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(p.Topic(), 1, true, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("mqtt publisher: publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Topic(), err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
