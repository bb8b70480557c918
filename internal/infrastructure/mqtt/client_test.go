package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pourwell-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DispensePour", topics.DispensePour("abc"), "pourwell/dispense/abc/pour"},
		{"DispenseCompleted", topics.DispenseCompleted("abc"), "pourwell/dispense/abc/completed"},
		{"Command", topics.Command("prime"), "pourwell/command/prime"},
		{"SystemStatus", topics.SystemStatus(), "pourwell/system/status"},
		{"AllCommands", topics.AllCommands(), "pourwell/command/+"},
		{"AllDispenses", topics.AllDispenses(), "pourwell/dispense/+/+"},
		{"AllTopics", topics.AllTopics(), "pourwell/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestCommandAction(t *testing.T) {
	tests := []struct {
		topic  string
		action string
		ok     bool
	}{
		{"pourwell/command/dispense", "dispense", true},
		{"pourwell/command/stop", "stop", true},
		{"pourwell/command/", "", false},
		{"pourwell/command", "", false},
		{"pourwell/command/prime/extra", "", false},
		{"pourwell/dispense/abc/pour", "", false},
		{"other/command/prime", "", false},
	}
	for _, tt := range tests {
		action, ok := Topics{}.CommandAction(tt.topic)
		if action != tt.action || ok != tt.ok {
			t.Errorf("CommandAction(%q) = %q, %v; want %q, %v", tt.topic, action, ok, tt.action, tt.ok)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bar"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "pourwell-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bar" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("AutoReconnect and CleanSession should be enabled")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without tls: true")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS minimum version not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "pourwell-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "pourwell/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if msg.Status != StatusOffline || msg.ClientID != "pourwell-test" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", msg)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("pourwell/x", nil, 3, false), ErrInvalidQoS},
		{"publish oversize", c.Publish("pourwell/x", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("pourwell/x", []byte("{}"), 1, false), ErrNotConnected},
		{"publish json disconnected", c.PublishJSON("pourwell/x", map[string]int{"a": 1}), ErrNotConnected},
		{"publish json unmarshallable", c.PublishJSON("pourwell/x", make(chan int)), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("pourwell/x", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("pourwell/x", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("pourwell/x", 1, noop), ErrNotConnected},
		{"commands nil handler", c.SubscribeCommands(nil), ErrSubscribeFailed},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("pourwell/x"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("pourwell/x") {
		t.Error("failed subscriptions must not be tracked")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCommandRouter(t *testing.T) {
	var gotAction, gotPayload string
	route := commandRouter(func(action string, payload []byte) error {
		gotAction, gotPayload = action, string(payload)
		return nil
	})

	if err := route("pourwell/command/prime", []byte(`{"seconds":5}`)); err != nil {
		t.Fatalf("route() error = %v", err)
	}
	if gotAction != "prime" || gotPayload != `{"seconds":5}` {
		t.Errorf("handler got %q %q", gotAction, gotPayload)
	}
	if err := route("pourwell/system/status", nil); err == nil {
		t.Error("route() accepted a non-command topic")
	}
}

func TestDeliverRecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { panic("boom") }, "pourwell/command/stop", nil)
	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "pourwell/command/stop", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.messages) != 2 {
		t.Fatalf("logged %v, want panic and error", logger.messages)
	}
	if !strings.Contains(logger.messages[0], "panic") {
		t.Errorf("first message = %q, want panic report", logger.messages[0])
	}
}
