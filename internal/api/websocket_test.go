package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/blinky-core/internal/infrastructure/config"
	"github.com/nerrad567/blinky-core/internal/infrastructure/logging"
)

func newTestHub() *Hub {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{}, log)
}

// newTestSession attaches a session with a small queue and no network
// connection; the read and write loops are not started.
func newTestSession(hub *Hub) *wsSession {
	s := &wsSession{
		hub:      hub,
		channels: make(map[string]struct{}),
		out:      make(chan []byte, 4),
		username: "operator",
	}
	hub.attach(s)
	return s
}

// drainFrames decodes every queued frame without blocking.
func drainFrames(t *testing.T, s *wsSession) []wsEnvelope {
	t.Helper()
	var frames []wsEnvelope
	for {
		select {
		case data := <-s.out:
			var frame wsEnvelope
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("queued frame is not JSON: %v", err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func subscribeFrame(t *testing.T, channels ...string) []byte {
	t.Helper()
	data, err := json.Marshal(wsEnvelope{
		Type:    frameSubscribe,
		ID:      "req-1",
		Payload: wsChannels{Channels: channels},
	})
	if err != nil {
		t.Fatalf("marshal subscribe: %v", err)
	}
	return data
}

func TestHubBroadcastRespectsSubscriptions(t *testing.T) {
	hub := newTestHub()
	listener := newTestSession(hub)
	bystander := newTestSession(hub)

	listener.handleFrame(subscribeFrame(t, ChannelStateChanged))
	drainFrames(t, listener) // discard the subscribe response

	hub.Broadcast(ChannelStateChanged, map[string]any{"address": "aa:bb:cc:dd:ee:01", "on": true})

	events := drainFrames(t, listener)
	if len(events) != 1 {
		t.Fatalf("subscribed session got %d frames, want 1", len(events))
	}
	if events[0].Type != frameEvent || events[0].EventType != ChannelStateChanged {
		t.Errorf("frame = %+v", events[0])
	}

	if got := drainFrames(t, bystander); len(got) != 0 {
		t.Errorf("unsubscribed session got %d frames, want 0", len(got))
	}
}

func TestSessionUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub()
	sess := newTestSession(hub)

	sess.handleFrame(subscribeFrame(t, ChannelViewChanged))
	unsub, _ := json.Marshal(wsEnvelope{
		Type:    frameUnsubscribe,
		Payload: wsChannels{Channels: []string{ChannelViewChanged}},
	})
	sess.handleFrame(unsub)
	drainFrames(t, sess)

	hub.Broadcast(ChannelViewChanged, map[string]any{"devices": []any{}})

	if got := drainFrames(t, sess); len(got) != 0 {
		t.Errorf("unsubscribed session got %d frames, want 0", len(got))
	}
}

func TestBroadcastDropsForLaggingSession(t *testing.T) {
	hub := newTestHub()
	sess := newTestSession(hub)
	sess.handleFrame(subscribeFrame(t, ChannelButtonChanged))
	drainFrames(t, sess)

	// Fill the queue so the next event has nowhere to go.
	for i := 0; i < cap(sess.out); i++ {
		sess.queue([]byte(`{}`))
	}

	hub.Broadcast(ChannelButtonChanged, map[string]any{"pressed": true})

	if len(sess.out) != cap(sess.out) {
		t.Errorf("queue length = %d, want %d (event should have been dropped)", len(sess.out), cap(sess.out))
	}
}

func TestPingFrameGetsPong(t *testing.T) {
	hub := newTestHub()
	sess := newTestSession(hub)

	ping, _ := json.Marshal(wsEnvelope{Type: framePing, ID: "p1"})
	sess.handleFrame(ping)

	frames := drainFrames(t, sess)
	if len(frames) != 1 || frames[0].Type != framePong || frames[0].ID != "p1" {
		t.Errorf("frames = %+v, want one pong with id p1", frames)
	}
}

func TestUnknownFrameTypeGetsError(t *testing.T) {
	hub := newTestHub()
	sess := newTestSession(hub)

	bogus, _ := json.Marshal(wsEnvelope{Type: "rewind", ID: "r1"})
	sess.handleFrame(bogus)

	frames := drainFrames(t, sess)
	if len(frames) != 1 || frames[0].Type != frameError {
		t.Errorf("frames = %+v, want one error frame", frames)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	hub := newTestHub()
	sess := newTestSession(hub)
	sess.handleFrame(subscribeFrame(t, ChannelBridgeHealth))

	hub.detach(sess)
	hub.detach(sess)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// Broadcasting to a detached session must not panic or deliver.
	hub.Broadcast(ChannelBridgeHealth, map[string]any{"status": "offline"})
	if sess.deliver(ChannelBridgeHealth, []byte(`{}`)) {
		t.Error("deliver succeeded on a closed session")
	}
}

func TestHubRunTearsDownSessions(t *testing.T) {
	hub := newTestHub()
	newTestSession(hub)
	newTestSession(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after shutdown, want 0", hub.ClientCount())
	}
}
