package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torvand/bellhop/internal/domain"
)

var upgrader = websocket.Upgrader{}

// fakeGateway answers identify with ready and echoes canned replies for
// ops, recording what it saw.
type fakeGateway struct {
	t     *testing.T
	ready ReadyEvent
	ops   chan frame
}

func (g *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case opIdentify:
			data, _ := json.Marshal(g.ready)
			_ = conn.WriteJSON(frame{Op: opReady, Data: data})
		case opSend:
			g.ops <- f
			data, _ := json.Marshal(sendReply{Message: "m42"})
			_ = conn.WriteJSON(frame{Op: opReply, Nonce: f.Nonce, Data: data})
		case opFetchMember:
			_ = conn.WriteJSON(frame{Op: opReply, Nonce: f.Nonce, Error: "member not found"})
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeGateway, chan ReadyEvent) {
	t.Helper()
	gw := &fakeGateway{
		t: t,
		ready: ReadyEvent{
			SessionID: "s1",
			Bot:       domain.Member{ID: "bot", Username: "bellhop", Bot: true},
			Servers:   []domain.ServerID{"srv1", "srv2"},
		},
		ops: make(chan frame, 8),
	}
	srv := httptest.NewServer(http.HandlerFunc(gw.handler))
	t.Cleanup(srv.Close)

	c := New(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:   "secret",
		Timeout: 2 * time.Second,
	})
	readyCh := make(chan ReadyEvent, 1)
	c.OnReady = func(ev ReadyEvent) { readyCh <- ev }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, gw, readyCh
}

func waitReady(t *testing.T, ch chan ReadyEvent) ReadyEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready")
		return ReadyEvent{}
	}
}

func TestConnectDeliversReadyAndBotID(t *testing.T) {
	c, _, readyCh := newTestClient(t)

	ev := waitReady(t, readyCh)
	if len(ev.Servers) != 2 {
		t.Errorf("servers = %v", ev.Servers)
	}
	if c.BotID() != "bot" {
		t.Errorf("bot id = %q", c.BotID())
	}
}

func TestSendCorrelatesReply(t *testing.T) {
	c, gw, readyCh := newTestClient(t)
	waitReady(t, readyCh)

	id, err := c.Send(context.Background(), "ch1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "m42" {
		t.Errorf("message id = %q", id)
	}

	select {
	case f := <-gw.ops:
		var p sendPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Channel != "ch1" || p.Content != "hello" {
			t.Errorf("payload = %+v", p)
		}
		if f.Nonce == "" {
			t.Error("op sent without nonce")
		}
	case <-time.After(time.Second):
		t.Fatal("gateway never saw the op")
	}
}

// Closing while requests are in flight must only fail them, never
// crash on the connection being torn down concurrently.
func TestCloseDuringRequests(t *testing.T) {
	c, _, readyCh := newTestClient(t)
	waitReady(t, readyCh)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Send(context.Background(), "ch1", "ping", nil)
		}()
	}
	c.Close()
	wg.Wait()

	if _, err := c.Send(context.Background(), "ch1", "ping", nil); err == nil {
		t.Error("send after close must fail")
	}
}

func TestErrorRepliesSurface(t *testing.T) {
	c, _, readyCh := newTestClient(t)
	waitReady(t, readyCh)

	_, err := c.Member(context.Background(), "srv1", "ghost")
	if err == nil || !strings.Contains(err.Error(), "member not found") {
		t.Errorf("expected gateway error, got %v", err)
	}
}
