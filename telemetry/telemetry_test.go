package telemetry_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/bg95ctl/session"
	"i4.energy/across/bg95ctl/telemetry"
)

type fakeToken struct {
	err     error
	expired bool
}

func (t *fakeToken) Wait() bool { return !t.expired }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.expired }
func (t *fakeToken) Error() error { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	if !t.expired {
		close(done)
	}
	return done
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods not overridden panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client
	token        *fakeToken
	messages     []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func TestPublishFix(t *testing.T) {
	client := &fakeClient{token: &fakeToken{}}
	p := telemetry.NewPublisher(client, telemetry.Config{TopicPrefix: "site-7", QoS: 1, Retain: true}, nil)

	fix := session.Fix{
		Time:       time.Date(2024, time.May, 11, 6, 19, 51, 0, time.UTC),
		Latitude:   52.37022,
		Longitude:  4.89517,
		Mode:       3,
		Satellites: 9,
	}
	require.NoError(t, p.PublishFix(fix))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "site-7/location", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var got struct {
		Timestamp time.Time   `json:"timestamp"`
		Data      session.Fix `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, fix.Latitude, got.Data.Latitude)
	assert.True(t, fix.Time.Equal(got.Data.Time))
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublishDefaultsTopicPrefix(t *testing.T) {
	client := &fakeClient{token: &fakeToken{}}
	p := telemetry.NewPublisher(client, telemetry.Config{}, nil)

	require.NoError(t, p.PublishAttach(session.AttachResult{Registration: session.RegistrationRegistered}))
	require.NoError(t, p.PublishNetwork(session.NetworkReport{}))

	require.Len(t, client.messages, 2)
	assert.Equal(t, "bg95/attach", client.messages[0].topic)
	assert.Equal(t, "bg95/network", client.messages[1].topic)
}

func TestPublishSkipUnchanged(t *testing.T) {
	client := &fakeClient{token: &fakeToken{}}
	p := telemetry.NewPublisher(client, telemetry.Config{SkipUnchanged: true}, nil)

	report := session.NetworkReport{Registration: session.RegistrationRegistered, Signal: session.Signal{RSSI: 18, BER: 99}}
	require.NoError(t, p.PublishNetwork(report))
	require.NoError(t, p.PublishNetwork(report))
	report.Signal.RSSI = 20
	require.NoError(t, p.PublishNetwork(report))

	assert.Len(t, client.messages, 2)
}

func TestPublishErrors(t *testing.T) {
	t.Run("Broker error", func(t *testing.T) {
		brokerErr := errors.New("not authorized")
		client := &fakeClient{token: &fakeToken{err: brokerErr}}
		p := telemetry.NewPublisher(client, telemetry.Config{SkipUnchanged: true}, nil)

		assert.ErrorIs(t, p.PublishFix(session.Fix{}), brokerErr)

		// A failed publish is not remembered.
		client.token = &fakeToken{}
		require.NoError(t, p.PublishFix(session.Fix{}))
		assert.Len(t, client.messages, 2)
	})

	t.Run("Timeout", func(t *testing.T) {
		client := &fakeClient{token: &fakeToken{expired: true}}
		p := telemetry.NewPublisher(client, telemetry.Config{PublishTimeout: time.Millisecond}, nil)

		assert.ErrorIs(t, p.PublishFix(session.Fix{}), telemetry.ErrPublishTimeout)
	})
}

func TestClose(t *testing.T) {
	client := &fakeClient{token: &fakeToken{}}
	p := telemetry.NewPublisher(client, telemetry.Config{}, nil)

	p.Close()

	assert.True(t, client.disconnected)
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := telemetry.Connect(telemetry.Config{}, nil)

	assert.ErrorIs(t, err, telemetry.ErrNoBroker)
}
