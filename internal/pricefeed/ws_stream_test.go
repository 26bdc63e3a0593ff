package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestStream_SubscribeAndReceive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Read subscribe request
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Op != "subscribe" || len(req.Assets) != 1 || req.Assets[0] != "GROVE-A" {
			t.Errorf("unexpected subscribe request: %+v", req)
		}

		// Push two quotes
		for _, price := range []string{"25", "26.5"} {
			quote := Quote{
				Asset:     "GROVE-A",
				Price:     decimal.RequireFromString(price),
				Timestamp: time.Now().UnixMilli(),
			}
			if err := conn.WriteJSON(quote); err != nil {
				return
			}
		}

		// Keep connection open
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	stream, err := NewStream(context.Background(), wsURL, []string{"GROVE-A"}, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	var received []Quote
	timeout := time.After(5 * time.Second)
	for len(received) < 2 {
		select {
		case q := <-stream.Quotes():
			received = append(received, q)
		case <-timeout:
			t.Fatalf("timed out waiting for quotes, got %d", len(received))
		}
	}

	if !received[0].Price.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected first quote 25, got %s", received[0].Price)
	}

	// The stream remembers the last quote per asset.
	price, err := stream.Price(context.Background(), "GROVE-A")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("26.5")) {
		t.Errorf("expected last price 26.5, got %s", price)
	}
}

func TestStream_PriceBeforeFirstQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	stream, err := NewStream(context.Background(), wsURL, []string{"GROVE-A"}, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Price(context.Background(), "GROVE-A"); err == nil {
		t.Error("expected error before any quote arrives")
	}
}

func TestStream_IgnoresMalformedMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"asset":"GROVE-A","price":"-1"}`))
		conn.WriteJSON(Quote{Asset: "GROVE-A", Price: decimal.NewFromInt(30)})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	stream, err := NewStream(context.Background(), wsURL, []string{"GROVE-A"}, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer stream.Close()

	select {
	case q := <-stream.Quotes():
		if !q.Price.Equal(decimal.NewFromInt(30)) {
			t.Errorf("expected the one valid quote, got %s", q.Price)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the valid quote")
	}
}
