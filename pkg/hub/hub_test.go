package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sonastea/questbot/pkg/entity"
	"github.com/sonastea/questbot/pkg/notify"
)

func TestRelayBroadcastsJSONFrames(t *testing.T) {
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := newClient(h, nil)
	if err := h.join(client); err != nil {
		t.Fatalf("join: %v", err)
	}
	for deadline := time.Now().Add(time.Second); h.getTotalClients() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wire, err := notify.Encode(notify.EventBattleAbandoned, "", sentAt, entity.Battle{Round: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.Relay(wire); err != nil {
		t.Fatalf("relay: %v", err)
	}

	select {
	case frame := <-client.sendChan:
		var got struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("frame is not json: %v", err)
		}
		if got.Type != notify.EventBattleAbandoned || got.Payload["round"] != float64(3) {
			t.Fatalf("frame = %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	h.leave(client)
	select {
	case _, ok := <-client.sendChan:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestRelayRejectsGarbage(t *testing.T) {
	h := New(nil)
	if err := h.Relay([]byte{0xff, 0x01}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestStoppedHubDoesNotBlock(t *testing.T) {
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	client := newClient(h, nil)
	errc := make(chan error, 1)
	go func() { errc <- h.join(client) }()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrHubClosed) {
			t.Fatalf("join err = %v, want ErrHubClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("join blocked on a stopped hub")
	}

	left := make(chan struct{})
	go func() {
		h.leave(client)
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked on a stopped hub")
	}
}
