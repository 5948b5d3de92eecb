// Package wsref is a venuedriver.Driver grounded on the teacher's
// market/binance websocket client: a REST client for account/order
// operations plus a single reconnecting websocket for streaming order
// book depth. It's written against an Endpoints struct of per-venue
// wire-format hooks rather than one fixed exchange, since the engine
// is meant to plug into any venue exposing that shape, not just
// Binance.
package wsref

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbitrage-engine/pkg/model"
	"arbitrage-engine/pkg/venuedriver"
)

// Endpoints supplies the venue-specific wire format. Each field is a
// small hook a concrete venue adapter fills in; Driver itself only
// handles transport, reconnection, and the Driver interface shape.
type Endpoints struct {
	// StreamURL builds the websocket URL for instrument's depth feed at depth.
	StreamURL func(instrument model.Instrument, depth int) string

	// ParseDepthMessage decodes one websocket frame into a snapshot.
	ParseDepthMessage func(instrument model.Instrument, msg []byte) (model.OrderBookSnapshot, error)

	LoadInstruments   func(ctx context.Context, c *http.Client, baseURL string) ([]model.Instrument, error)
	FetchOrderBook    func(ctx context.Context, c *http.Client, baseURL string, instrument model.Instrument, depth int) (model.OrderBookSnapshot, error)
	FetchBalance      func(ctx context.Context, c *http.Client, baseURL string, currency string) (float64, error)
	FetchTradingFees  func(ctx context.Context, c *http.Client, baseURL string, instrument model.Instrument) (model.TradingFees, error)
	CreateOrder       func(ctx context.Context, c *http.Client, baseURL string, req model.OrderRequest) (model.OrderResult, error)
	FetchOrder        func(ctx context.Context, c *http.Client, baseURL string, venueOrderID string, instrument model.Instrument) (model.OrderResult, error)
	FetchRecentOrders func(ctx context.Context, c *http.Client, baseURL string, instrument model.Instrument, limit int) ([]model.OrderResult, error)
	CancelOrder       func(ctx context.Context, c *http.Client, baseURL string, venueOrderID string, instrument model.Instrument) error
}

// ReconnectPolicy mirrors the teacher's exponential backoff knobs.
type ReconnectPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectPolicy returns the teacher's defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
}

func (p ReconnectPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Config configures a Driver instance.
type Config struct {
	Venue      model.VenueID
	BaseURL    string
	Caps       venuedriver.Capability
	Depths     venuedriver.AcceptedDepths
	Endpoints  Endpoints
	Reconnect  ReconnectPolicy
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Driver is a generic websocket-streaming, REST-everything-else venue driver.
type Driver struct {
	cfg Config
	http *http.Client
	dialer *websocket.Dialer
}

// New builds a Driver from cfg, filling in defaults for anything the
// caller left zero.
func New(cfg Config) *Driver {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	return &Driver{cfg: cfg, http: cfg.HTTPClient, dialer: cfg.Dialer}
}

func (d *Driver) Capabilities() venuedriver.Capability { return d.cfg.Caps }

func (d *Driver) LoadInstruments(ctx context.Context) ([]model.Instrument, error) {
	if d.cfg.Endpoints.LoadInstruments == nil {
		return nil, fmt.Errorf("%s: LoadInstruments not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.LoadInstruments(ctx, d.http, d.cfg.BaseURL)
}

func (d *Driver) FetchOrderBook(ctx context.Context, instrument model.Instrument, depth int) (model.OrderBookSnapshot, error) {
	if d.cfg.Endpoints.FetchOrderBook == nil {
		return model.OrderBookSnapshot{}, fmt.Errorf("%s: FetchOrderBook not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.FetchOrderBook(ctx, d.http, d.cfg.BaseURL, instrument, depth)
}

func (d *Driver) FetchBalance(ctx context.Context, currency string) (float64, error) {
	if d.cfg.Endpoints.FetchBalance == nil {
		return 0, fmt.Errorf("%s: FetchBalance not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.FetchBalance(ctx, d.http, d.cfg.BaseURL, currency)
}

func (d *Driver) FetchTradingFees(ctx context.Context, instrument model.Instrument) (model.TradingFees, error) {
	if d.cfg.Endpoints.FetchTradingFees == nil {
		return model.TradingFees{}, fmt.Errorf("%s: FetchTradingFees not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.FetchTradingFees(ctx, d.http, d.cfg.BaseURL, instrument)
}

func (d *Driver) CreateOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if d.cfg.Endpoints.CreateOrder == nil {
		return model.OrderResult{}, fmt.Errorf("%s: CreateOrder not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.CreateOrder(ctx, d.http, d.cfg.BaseURL, req)
}

func (d *Driver) FetchOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) (model.OrderResult, error) {
	if d.cfg.Endpoints.FetchOrder == nil {
		return model.OrderResult{}, fmt.Errorf("%s: FetchOrder not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.FetchOrder(ctx, d.http, d.cfg.BaseURL, venueOrderID, instrument)
}

func (d *Driver) FetchRecentOrders(ctx context.Context, instrument model.Instrument, limit int) ([]model.OrderResult, error) {
	if d.cfg.Endpoints.FetchRecentOrders == nil {
		return nil, fmt.Errorf("%s: FetchRecentOrders not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.FetchRecentOrders(ctx, d.http, d.cfg.BaseURL, instrument, limit)
}

func (d *Driver) CancelOrder(ctx context.Context, venueOrderID string, instrument model.Instrument) error {
	if d.cfg.Endpoints.CancelOrder == nil {
		return fmt.Errorf("%s: CancelOrder not implemented", d.cfg.Venue)
	}
	return d.cfg.Endpoints.CancelOrder(ctx, d.http, d.cfg.BaseURL, venueOrderID, instrument)
}

func (d *Driver) Close() error { return nil }

// StreamOrderBook opens a reconnecting websocket subscription to
// instrument's depth feed. Frames arrive on the returned channel until
// stop is called or the driver exhausts its reconnect budget.
func (d *Driver) StreamOrderBook(ctx context.Context, instrument model.Instrument, depth int) (<-chan venuedriver.OrderBookUpdate, func(), error) {
	if d.cfg.Endpoints.StreamURL == nil || d.cfg.Endpoints.ParseDepthMessage == nil {
		return nil, nil, fmt.Errorf("%s: streaming not implemented", d.cfg.Venue)
	}

	url := d.cfg.Endpoints.StreamURL(instrument, depth)
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: dial %s: %w", d.cfg.Venue, instrument, err)
	}

	out := make(chan venuedriver.OrderBookUpdate, 32)
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	var mu sync.Mutex
	current := conn

	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			mu.Lock()
			if current != nil {
				_ = current.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = current.Close()
			}
			mu.Unlock()
			close(out)
		})
	}

	reconnect := func(attempt int) (*websocket.Conn, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stopCh:
			return nil, fmt.Errorf("stopped")
		case <-time.After(d.cfg.Reconnect.delay(attempt)):
		}
		return d.dialer.DialContext(ctx, url, nil)
	}

	go func() {
		defer stop()
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}

			mu.Lock()
			active := current
			mu.Unlock()
			if active == nil {
				return
			}

			_, msg, err := active.ReadMessage()
			if err != nil {
				select {
				case <-stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}

				if attempt >= d.cfg.Reconnect.MaxRetries {
					select {
					case out <- venuedriver.OrderBookUpdate{Err: fmt.Errorf("%s: reconnect budget exhausted: %w", d.cfg.Venue, err)}:
					default:
					}
					return
				}
				newConn, rErr := reconnect(attempt)
				attempt++
				if rErr != nil {
					log.Printf("%s: stream reconnect failed: %v", d.cfg.Venue, rErr)
					continue
				}
				mu.Lock()
				current = newConn
				mu.Unlock()
				continue
			}
			attempt = 0

			snap, perr := d.cfg.Endpoints.ParseDepthMessage(instrument, msg)
			update := venuedriver.OrderBookUpdate{Snapshot: snap, Err: perr}
			select {
			case out <- update:
			default:
			}
		}
	}()

	return out, stop, nil
}
