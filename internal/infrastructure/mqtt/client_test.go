package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/blinky-core/internal/infrastructure/config"
)

// fakeToken is an immediately-resolved paho token.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type recordedPublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records publishes and subscriptions without a broker.
type fakePaho struct {
	mu         sync.Mutex
	connected  bool
	publishes  []recordedPublish
	subscribed []string
	pubErr     error
	subErr     error
}

func (f *fakePaho) IsConnected() bool      { return f.connected }
func (f *fakePaho) IsConnectionOpen() bool { return f.connected }

func (f *fakePaho) Connect() pahomqtt.Token {
	f.connected = true
	return &fakeToken{}
}

func (f *fakePaho) Disconnect(uint) { f.connected = false }

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.publishes = append(f.publishes, recordedPublish{topic: topic, qos: qos, retained: retained, payload: data})
	return &fakeToken{err: f.pubErr}
}

func (f *fakePaho) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return &fakeToken{err: f.subErr}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(...string) pahomqtt.Token { return &fakeToken{} }

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (f *fakePaho) lastPublish() (recordedPublish, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.publishes) == 0 {
		return recordedPublish{}, false
	}
	return f.publishes[len(f.publishes)-1], true
}

// fakeMessage satisfies pahomqtt.Message for dispatch tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// captureLogger records log calls for assertions.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "blinky-core-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
}

func connectedClient(fake *fakePaho) *Client {
	fake.connected = true
	return &Client{
		paho:      fake,
		cfg:       testConfig(),
		subs:      make(map[string]activeSub),
		connected: true,
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		payload   []byte
		qos       byte
		connected bool
		wantErr   error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte(`{}`),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   Topics{}.DeviceCommand("aa:bb:cc:dd:ee:ff"),
			payload: []byte(`{}`),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversize payload",
			topic:   Topics{}.CoreDiscoveryView(),
			payload: make([]byte, maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "not connected",
			topic:   Topics{}.DeviceCommand("aa:bb:cc:dd:ee:ff"),
			payload: []byte(`{}`),
			qos:     1,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePaho{connected: tt.connected}
			c := &Client{paho: fake, cfg: testConfig(), subs: make(map[string]activeSub), connected: tt.connected}

			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
			if _, published := fake.lastPublish(); published {
				t.Error("invalid publish reached the broker")
			}
		})
	}
}

func TestPublishCommand(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)

	topic := Topics{}.DeviceCommand("aa:bb:cc:dd:ee:ff")
	payload := []byte(`{"led_on":true,"command_id":"cmd-1"}`)

	if err := c.Publish(topic, payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	pub, ok := fake.lastPublish()
	if !ok {
		t.Fatal("nothing published")
	}
	if pub.topic != "blinky/command/aa:bb:cc:dd:ee:ff" {
		t.Errorf("published to %q", pub.topic)
	}
	if pub.retained {
		t.Error("command published retained; commands must never be retained")
	}
	if string(pub.payload) != string(payload) {
		t.Errorf("payload = %s", pub.payload)
	}
}

func TestPublishRetainedViewSnapshot(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)

	topic := Topics{}.CoreDiscoveryView()
	if err := c.Publish(topic, []byte(`{"devices":[]}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	pub, ok := fake.lastPublish()
	if !ok {
		t.Fatal("nothing published")
	}
	if pub.topic != "blinky/core/discovery/view" {
		t.Errorf("published to %q", pub.topic)
	}
	if !pub.retained {
		t.Error("view snapshot must be retained so late subscribers catch up")
	}
}

func TestPublishBrokerError(t *testing.T) {
	fake := &fakePaho{pubErr: fmt.Errorf("broker rejected")}
	c := connectedClient(fake)

	err := c.Publish(Topics{}.ScannerScan("scanner-hallway"), []byte(`{}`), 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name      string
		topic     string
		qos       byte
		handler   MessageHandler
		connected bool
		wantErr   error
	}{
		{name: "empty topic", topic: "", qos: 1, handler: handler, connected: true, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: Topics{}.AllScans(), qos: 5, handler: handler, connected: true, wantErr: ErrInvalidQoS},
		{name: "nil handler", topic: Topics{}.AllScans(), qos: 1, handler: nil, connected: true, wantErr: ErrSubscribeFailed},
		{name: "not connected", topic: Topics{}.AllScans(), qos: 1, handler: handler, connected: false, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePaho{connected: tt.connected}
			c := &Client{paho: fake, cfg: testConfig(), subs: make(map[string]activeSub), connected: tt.connected}

			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
			if len(c.subs) != 0 {
				t.Error("failed subscribe left a tracked subscription")
			}
		})
	}
}

func TestSubscribeReplayedOnReconnect(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)

	handler := func(string, []byte) error { return nil }
	ingest := []string{
		Topics{}.AllScans(),
		Topics{}.AllDeviceStates(),
		Topics{}.AllDeviceAcks(),
		Topics{}.AllScannerHealth(),
	}
	for _, topic := range ingest {
		if err := c.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	// A reconnect replays every tracked subscription and refreshes the
	// retained online status.
	fake.mu.Lock()
	fake.subscribed = nil
	fake.publishes = nil
	fake.mu.Unlock()

	c.handleConnect()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.subscribed) != len(ingest) {
		t.Fatalf("replayed %d subscriptions, want %d", len(fake.subscribed), len(ingest))
	}
	replayed := make(map[string]bool, len(fake.subscribed))
	for _, topic := range fake.subscribed {
		replayed[topic] = true
	}
	for _, topic := range ingest {
		if !replayed[topic] {
			t.Errorf("subscription %s not replayed after reconnect", topic)
		}
	}

	if len(fake.publishes) != 1 {
		t.Fatalf("got %d status publishes, want 1", len(fake.publishes))
	}
	status := fake.publishes[0]
	if status.topic != "blinky/system/status" {
		t.Errorf("status published to %q", status.topic)
	}
	if !status.retained {
		t.Error("status publish must be retained")
	}
	var payload statusPayload
	if err := json.Unmarshal(status.payload, &payload); err != nil {
		t.Fatalf("status payload not JSON: %v", err)
	}
	if payload.Status != "online" {
		t.Errorf("status = %q, want online", payload.Status)
	}
}

func TestSubscribeBrokerFailureUntracked(t *testing.T) {
	fake := &fakePaho{subErr: fmt.Errorf("broker rejected")}
	c := connectedClient(fake)

	err := c.Subscribe(Topics{}.AllScans(), 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if len(c.subs) != 0 {
		t.Error("rejected subscription is still tracked; it would replay on reconnect")
	}
}

func TestConnectCallbacks(t *testing.T) {
	fake := &fakePaho{connected: true}
	c := connectedClient(fake)

	var connects, disconnects int
	c.SetOnConnect(func() { connects++ })
	c.SetOnDisconnect(func(error) { disconnects++ })

	c.handleConnect()
	c.handleLost(fmt.Errorf("broker went away"))

	if connects != 1 {
		t.Errorf("onConnect fired %d times, want 1", connects)
	}
	if disconnects != 1 {
		t.Errorf("onDisconnect fired %d times, want 1", disconnects)
	}
	if c.connected {
		t.Error("client still marked connected after connection loss")
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)
	log := &captureLogger{}
	c.SetLogger(log)

	handler := c.dispatch(func(string, []byte) error {
		panic("scan payload assumption violated")
	})

	// Must not propagate; a panicking handler would otherwise kill the
	// paho delivery goroutine.
	handler(nil, &fakeMessage{topic: "blinky/scan/scanner-hallway", payload: []byte(`{}`)})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.errors) != 1 {
		t.Fatalf("recovered panic logged %d times, want 1", len(log.errors))
	}
}

func TestDispatchLogsHandlerError(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)
	log := &captureLogger{}
	c.SetLogger(log)

	handler := c.dispatch(func(string, []byte) error {
		return fmt.Errorf("malformed scan report")
	})
	handler(nil, &fakeMessage{topic: "blinky/scan/scanner-hallway", payload: []byte(`not json`)})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) != 1 {
		t.Fatalf("handler error logged %d times, want 1", len(log.warns))
	}
}

func TestCloseGracefulOfflineStatus(t *testing.T) {
	fake := &fakePaho{}
	c := connectedClient(fake)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pub, ok := fake.lastPublish()
	if !ok {
		t.Fatal("no offline status published on close")
	}
	var payload statusPayload
	if err := json.Unmarshal(pub.payload, &payload); err != nil {
		t.Fatalf("offline payload not JSON: %v", err)
	}
	if payload.Status != "offline" || payload.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", payload)
	}
	if fake.connected {
		t.Error("paho client not disconnected")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestCloseZeroClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	fake := &fakePaho{connected: true}
	c := connectedClient(fake)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() on connected client error = %v", err)
	}

	c.handleLost(fmt.Errorf("gone"))
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestBuildOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gateway"
	cfg.Auth.Password = "secret"

	opts := buildOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("got %d brokers, want 1", len(opts.Servers))
	}
	if opts.Servers[0].Scheme != "tcp" {
		t.Errorf("scheme = %q, want tcp", opts.Servers[0].Scheme)
	}
	if opts.Servers[0].Host != "127.0.0.1:1883" {
		t.Errorf("host = %q", opts.Servers[0].Host)
	}
	if opts.ClientID != "blinky-core-test" {
		t.Errorf("client ID = %q", opts.ClientID)
	}
	if opts.Username != "gateway" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.WillEnabled {
		t.Fatal("LWT not configured")
	}
	if opts.WillTopic != "blinky/system/status" {
		t.Errorf("LWT topic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("LWT retained=%v qos=%d, want retained QoS 1", opts.WillRetained, opts.WillQos)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("LWT payload = %s", opts.WillPayload)
	}
}

func TestBuildOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Error("TLS 1.2 minimum not enforced")
	}
}

func TestTopicScheme(t *testing.T) {
	addr := "aa:bb:cc:dd:ee:ff"
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ScannerScan", topics.ScannerScan("scanner-hallway"), "blinky/scan/scanner-hallway"},
		{"DeviceState", topics.DeviceState(addr), "blinky/state/" + addr},
		{"DeviceCommand", topics.DeviceCommand(addr), "blinky/command/" + addr},
		{"DeviceAck", topics.DeviceAck(addr), "blinky/ack/" + addr},
		{"ScannerHealth", topics.ScannerHealth("scanner-hallway"), "blinky/health/scanner-hallway"},
		{"CoreDeviceState", topics.CoreDeviceState(addr), "blinky/core/device/" + addr + "/state"},
		{"CoreDiscoveryView", topics.CoreDiscoveryView(), "blinky/core/discovery/view"},
		{"CoreEvent", topics.CoreEvent("discovery_reset"), "blinky/core/event/discovery_reset"},
		{"SystemStatus", topics.SystemStatus(), "blinky/system/status"},
		{"AllScans", topics.AllScans(), "blinky/scan/+"},
		{"AllDeviceStates", topics.AllDeviceStates(), "blinky/state/+"},
		{"AllDeviceAcks", topics.AllDeviceAcks(), "blinky/ack/+"},
		{"AllScannerHealth", topics.AllScannerHealth(), "blinky/health/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
