package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHubClient(h *Hub) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	h.Register(c)
	return c
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	hub := env.srv.Hub()

	silos := newTestHubClient(hub)
	silos.subscriptions[EventSiloProvisioned] = struct{}{}
	all := newTestHubClient(hub)
	all.subscriptions[WSChannelAll] = struct{}{}
	none := newTestHubClient(hub)

	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("ClientCount() = %d, want 3", got)
	}

	hub.Broadcast(EventSiloProvisioned, "", map[string]string{"id": "s1"})
	hub.Broadcast(EventReadingRecorded, "Silo_A", map[string]string{"id": "r1"})

	if n := len(silos.send); n != 1 {
		t.Errorf("silo subscriber got %d messages, want 1", n)
	}
	if n := len(all.send); n != 2 {
		t.Errorf("wildcard subscriber got %d messages, want 2", n)
	}
	if n := len(none.send); n != 0 {
		t.Errorf("unsubscribed client got %d messages, want 0", n)
	}

	var msg WSMessage
	if err := json.Unmarshal(<-silos.send, &msg); err != nil {
		t.Fatalf("decoding broadcast: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != EventSiloProvisioned {
		t.Errorf("message = %+v", msg)
	}

	hub.Unregister(silos)
	hub.Unregister(silos) // second call must not double-close
	if got := hub.ClientCount(); got != 2 {
		t.Errorf("ClientCount() after unregister = %d, want 2", got)
	}
	hub.Broadcast(EventSiloProvisioned, "", map[string]string{"id": "s2"}) // must not send on the closed buffer
}

func TestHub_IdentifierFilter(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	hub := env.srv.Hub()

	north := newTestHubClient(hub)
	north.subscribe("1", WSSubscribePayload{
		Channels:    []string{EventReadingRecorded, EventSiloRenamed},
		Identifiers: []string{"Silo_Norte"},
	})
	<-north.send // subscribe ack

	hub.Broadcast(EventReadingRecorded, "Silo_Sul", map[string]string{"id": "r1"})
	hub.Broadcast(EventReadingRecorded, "Silo_Norte", map[string]string{"id": "r2"})
	hub.Broadcast(EventSiloRenamed, "", map[string]string{"id": "s1"})

	if n := len(north.send); n != 2 {
		t.Fatalf("filtered client got %d messages, want 2", n)
	}
	var first WSMessage
	if err := json.Unmarshal(<-north.send, &first); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if first.EventType != EventReadingRecorded {
		t.Errorf("first event = %+v, want the Silo_Norte reading", first)
	}

	<-north.send // rename event

	north.unsubscribe("2", WSSubscribePayload{Identifiers: []string{"Silo_Norte"}})
	<-north.send // unsubscribe ack
	hub.Broadcast(EventReadingRecorded, "Silo_Sul", map[string]string{"id": "r3"})
	if n := len(north.send); n != 1 {
		t.Errorf("after dropping the filter got %d queued messages, want 1", n)
	}
}

func TestWebSocket_Auth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ts := httptest.NewServer(env.router)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	if err == nil {
		t.Fatal("dial with a bad token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestWebSocket_ReceivesProvisionEvent(t *testing.T) {
	env := newTestEnv(t, envOptions{respond: okFor})
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + env.operatorToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{EventSiloProvisioned}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	s := env.createSilo(t, "Silo Norte")
	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/provisioning/provision", env.operatorToken,
		provisionRequest{SiloID: s.ID, MAC: "AA:BB:CC:DD:EE:01"}), http.StatusOK)

	var event struct {
		Type      string `json:"type"`
		EventType string `json:"event_type"`
		Payload   struct {
			ID         string `json:"id"`
			Identifier string `json:"device_identifier"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.EventType != EventSiloProvisioned || event.Payload.ID != s.ID || event.Payload.Identifier != "Silo_Norte" {
		t.Errorf("event = %+v", event)
	}

	t.Run("unknown channel", func(t *testing.T) {
		sub := WSMessage{Type: WSTypeSubscribe, ID: "3", Payload: WSSubscribePayload{Channels: []string{"silo.exploded"}}}
		if err := conn.WriteJSON(sub); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		var ack struct {
			Type    string `json:"type"`
			ID      string `json:"id"`
			Payload struct {
				Subscribed []string `json:"subscribed"`
				Unknown    []string `json:"unknown"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&ack); err != nil {
			t.Fatalf("reading ack: %v", err)
		}
		if ack.ID != "3" || len(ack.Payload.Subscribed) != 0 || len(ack.Payload.Unknown) != 1 {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
			t.Fatalf("ping: %v", err)
		}
		var pong WSMessage
		if err := conn.ReadJSON(&pong); err != nil {
			t.Fatalf("reading pong: %v", err)
		}
		if pong.Type != WSTypePong || pong.ID != "2" {
			t.Errorf("pong = %+v", pong)
		}
	})
}
