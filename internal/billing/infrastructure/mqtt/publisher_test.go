package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/config"
)

type fakeToken struct {
	done    chan struct{}
	err     error
	pending bool
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	calls        []publishCall
	err          error
	connectToken *fakeToken
	connected    bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.calls = append(c.calls, publishCall{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newFakeToken(c.err)
}

func (c *fakeClient) Connect() paho.Token {
	if c.connectToken == nil {
		return newFakeToken(nil)
	}
	return c.connectToken
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func sampleStatement() *application.Statement {
	return &application.Statement{
		TotalUsage:  300,
		Rate:        0.25,
		FixedFee:    10,
		Amount:      85,
		Currency:    "USD",
		RowCount:    30,
		GeneratedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishStatement(t *testing.T) {
	fc := &fakeClient{connected: true}
	p := newPublisher(fc, "home/meter/")

	require.NoError(t, p.PublishStatement(context.Background(), sampleStatement()))
	require.Len(t, fc.calls, 1)
	call := fc.calls[0]
	assert.Equal(t, "home/meter/bill", call.topic)
	assert.True(t, call.retained)

	var payload StatementPayload
	require.NoError(t, json.Unmarshal(call.payload, &payload))
	assert.Equal(t, 85.0, payload.Amount)
	assert.Equal(t, "2024-02-01T00:00:00Z", payload.GeneratedAt)

	p.Close()
	assert.True(t, fc.disconnected)
}

func TestPublishStatement_Errors(t *testing.T) {
	fc := &fakeClient{err: errors.New("not authorized")}
	p := newPublisher(fc, "")
	assert.Equal(t, "fixedrate/bill", p.Topic())

	err := p.PublishStatement(context.Background(), sampleStatement())
	assert.ErrorContains(t, err, "not authorized")

	assert.Error(t, p.PublishStatement(context.Background(), nil))

	var nilPublisher *Publisher
	assert.Error(t, nilPublisher.PublishStatement(context.Background(), sampleStatement()))
}

func TestNew_RequiresBroker(t *testing.T) {
	_, err := New(config.MQTTConfig{})
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	c := &fakeClient{}
	require.NoError(t, connect(c, time.Second))
	assert.False(t, c.disconnected)

	c = &fakeClient{connectToken: newFakeToken(errors.New("not authorized"))}
	err := connect(c, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestConnect_UnreachableBrokerTimesOut(t *testing.T) {
	token := &fakeToken{done: make(chan struct{}), pending: true}
	c := &fakeClient{connectToken: token}

	err := connect(c, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no answer")
	assert.True(t, c.disconnected)
}
