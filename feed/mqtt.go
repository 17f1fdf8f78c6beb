package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	mqttDisconnectQuiesceMS   = 250
	mqttEventQueue            = 256
)

// MQTTTransport receives feed frames relayed onto an MQTT topic. Each message
// payload is one standing-order JSON frame. Paho delivers callbacks on its
// own goroutines; Run funnels them through a channel so the Manager still
// sees them one at a time.
type MQTTTransport struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string
	ClientID       string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration

	// newClient is swapped by tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
	closed bool
	stop   chan struct{}
}

type mqttEventKind int

const (
	mqttOpen mqttEventKind = iota
	mqttMessage
	mqttLost
	mqttSubscribeFailed
)

type mqttEvent struct {
	kind    mqttEventKind
	payload []byte
	err     error
}

// NewMQTTTransport returns a transport subscribed to topic on broker.
func NewMQTTTransport(broker, topic string) *MQTTTransport {
	return &MQTTTransport{
		Broker:         broker,
		Topic:          topic,
		ConnectTimeout: defaultMQTTConnectTimeout,
		newClient:      mqtt.NewClient,
		stop:           make(chan struct{}),
	}
}

// Run connects, subscribes and relays messages until the connection is lost,
// ctx ends, or Close is called.
func (t *MQTTTransport) Run(ctx context.Context, cb Callbacks) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	events := make(chan mqttEvent, mqttEventQueue)
	runDone := make(chan struct{})
	defer close(runDone)
	emit := func(ev mqttEvent) {
		select {
		case events <- ev:
		case <-runDone:
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.Broker)
	clientID := t.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("seismicdash-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	if t.Username != "" {
		opts.SetUsername(t.Username)
		opts.SetPassword(t.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(t.connectTimeout())
	// The Manager owns reconnect policy.
	opts.SetAutoReconnect(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(t.Topic, t.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			emit(mqttEvent{kind: mqttMessage, payload: msg.Payload()})
		})
		if token.Wait() && token.Error() != nil {
			emit(mqttEvent{kind: mqttSubscribeFailed, err: fmt.Errorf("subscribe %s: %w", t.Topic, token.Error())})
			return
		}
		emit(mqttEvent{kind: mqttOpen})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		emit(mqttEvent{kind: mqttLost, err: err})
	})

	newClient := t.newClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	client := newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(t.connectTimeout()) {
		// Stop the attempt still running in the background.
		client.Disconnect(0)
		err := fmt.Errorf("connect %s: timed out", t.Broker)
		cb.fail(err)
		return err
	}
	if err := token.Error(); err != nil {
		err = fmt.Errorf("connect %s: %w", t.Broker, err)
		cb.fail(err)
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		client.Disconnect(mqttDisconnectQuiesceMS)
		return ErrTransportClosed
	}
	t.client = client
	t.mu.Unlock()
	defer t.release(client)

	opened := false
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case mqttOpen:
				opened = true
				cb.open()
			case mqttMessage:
				cb.message(ev.payload)
			case mqttSubscribeFailed:
				cb.fail(ev.err)
				client.Disconnect(mqttDisconnectQuiesceMS)
				if opened {
					cb.close(ev.err)
				}
				return ev.err
			case mqttLost:
				err := ev.err
				if err == nil {
					err = errors.New("connection lost")
				}
				cb.fail(err)
				cb.close(err)
				return err
			}
		case <-t.stop:
			if opened {
				cb.close(nil)
			}
			return nil
		case <-ctx.Done():
			client.Disconnect(mqttDisconnectQuiesceMS)
			if opened {
				cb.close(nil)
			}
			return nil
		}
	}
}

// Close unsubscribes and disconnects. Later calls are no-ops.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	client := t.client
	if t.stop == nil {
		t.stop = make(chan struct{})
	}
	close(t.stop)
	t.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Unsubscribe(t.Topic)
		client.Disconnect(mqttDisconnectQuiesceMS)
	}
	return nil
}

func (t *MQTTTransport) release(client mqtt.Client) {
	t.mu.Lock()
	if t.client == client {
		t.client = nil
	}
	t.mu.Unlock()
}

func (t *MQTTTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		t.stop = make(chan struct{})
	}
	return t.closed
}

func (t *MQTTTransport) connectTimeout() time.Duration {
	if t.ConnectTimeout <= 0 {
		return defaultMQTTConnectTimeout
	}
	return t.ConnectTimeout
}
