package wsref

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
)

type depthFrame struct {
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
}

func newDepthServer(t *testing.T, frames []depthFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			data, _ := json.Marshal(f)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
	return srv
}

func testEndpoints(wsURL string) Endpoints {
	return Endpoints{
		StreamURL: func(instrument model.Instrument, depth int) string {
			return wsURL
		},
		ParseDepthMessage: func(instrument model.Instrument, msg []byte) (model.OrderBookSnapshot, error) {
			var f depthFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				return model.OrderBookSnapshot{}, err
			}
			snap := model.OrderBookSnapshot{Instrument: instrument}
			for _, b := range f.Bids {
				snap.Bids = append(snap.Bids, model.PriceLevel{Price: b[0], Amount: b[1]})
			}
			for _, a := range f.Asks {
				snap.Asks = append(snap.Asks, model.PriceLevel{Price: a[0], Amount: a[1]})
			}
			return snap, nil
		},
	}
}

func TestStreamOrderBookDeliversParsedSnapshots(t *testing.T) {
	frames := []depthFrame{
		{Bids: [][2]float64{{100, 1}}, Asks: [][2]float64{{101, 1}}},
		{Bids: [][2]float64{{100.5, 2}}, Asks: [][2]float64{{101.5, 2}}},
	}
	srv := newDepthServer(t, frames)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	d := New(Config{Venue: "alpha", Endpoints: testEndpoints(wsURL)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, stop, err := d.StreamOrderBook(ctx, "BTC/USD", 10)
	if err != nil {
		t.Fatalf("stream order book: %v", err)
	}
	defer stop()

	var got []venuedriver.OrderBookUpdate
	for i := 0; i < len(frames); i++ {
		select {
		case u := <-ch:
			got = append(got, u)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(got))
	}
	if got[0].Err != nil {
		t.Fatalf("unexpected parse error: %v", got[0].Err)
	}
	if got[1].Snapshot.Bids[0].Price != 100.5 {
		t.Fatalf("unexpected second snapshot: %+v", got[1].Snapshot)
	}
}

func TestMethodsReturnErrorWhenEndpointNotConfigured(t *testing.T) {
	d := New(Config{Venue: "alpha"})
	ctx := context.Background()

	if _, err := d.FetchBalance(ctx, "USD"); err == nil {
		t.Fatal("expected error for unconfigured FetchBalance")
	}
	if _, err := d.LoadInstruments(ctx); err == nil {
		t.Fatal("expected error for unconfigured LoadInstruments")
	}
	if err := d.CancelOrder(ctx, "1", "BTC/USD"); err == nil {
		t.Fatal("expected error for unconfigured CancelOrder")
	}
}
