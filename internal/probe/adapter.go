// Package probe checks the live machine status of always-open venues.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradingcal/internal/domain"
)

// MachineStatus is the classified result of a venue status endpoint.
type MachineStatus struct {
	OK  bool
	Raw string
}

// Adapter is the connectivity surface of a single venue.
type Adapter interface {
	Venue() domain.Venue
	// HasStatus reports whether the venue publishes a machine status.
	HasStatus() bool
	FetchStatus(ctx context.Context) (MachineStatus, error)
}

// --- HTTP plumbing ---

const maxBody = 1 << 20

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, client *http.Client, url string, hdr http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	return nil
}

type httpAdapter struct {
	venue   domain.Venue
	baseURL string
	client  *http.Client
}

func newHTTPAdapter(venue domain.Venue, baseURL string, client *http.Client) httpAdapter {
	if client == nil {
		client = defaultHTTPClient
	}
	return httpAdapter{
		venue:   venue,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (a httpAdapter) Venue() domain.Venue { return a.venue }
func (a httpAdapter) HasStatus() bool     { return a.baseURL != "" }

// --- Binance ---

// Binance reads GET /sapi/v1/system/status, where status 0 means normal and 1
// means system maintenance.
type Binance struct {
	httpAdapter
	apiKey string
}

// NewBinance creates a Binance adapter. apiKey may be empty. A nil client uses
// a shared default.
func NewBinance(baseURL, apiKey string, client *http.Client) *Binance {
	return &Binance{httpAdapter: newHTTPAdapter("BINANCE", baseURL, client), apiKey: apiKey}
}

func (b *Binance) FetchStatus(ctx context.Context) (MachineStatus, error) {
	var r struct {
		Status *int   `json:"status"`
		Msg    string `json:"msg"`
	}
	var hdr http.Header
	if b.apiKey != "" {
		hdr = http.Header{"X-MBX-APIKEY": []string{b.apiKey}}
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/sapi/v1/system/status", hdr, &r); err != nil {
		return MachineStatus{}, err
	}
	if r.Status == nil {
		return MachineStatus{}, fmt.Errorf("binance: missing status field")
	}
	return MachineStatus{OK: *r.Status == 0, Raw: r.Msg}, nil
}

// --- Kraken ---

// Kraken reads GET /0/public/SystemStatus. Only "online" counts as open;
// "maintenance", "cancel_only" and "post_only" do not.
type Kraken struct{ httpAdapter }

// NewKraken creates a Kraken adapter.
func NewKraken(baseURL string, client *http.Client) *Kraken {
	return &Kraken{newHTTPAdapter("KRAKEN", baseURL, client)}
}

func (k *Kraken) FetchStatus(ctx context.Context) (MachineStatus, error) {
	var r struct {
		Error  []string `json:"error"`
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := getJSON(ctx, k.client, k.baseURL+"/0/public/SystemStatus", nil, &r); err != nil {
		return MachineStatus{}, err
	}
	if len(r.Error) > 0 {
		return MachineStatus{}, fmt.Errorf("kraken: %s", strings.Join(r.Error, "; "))
	}
	if r.Result.Status == "" {
		return MachineStatus{}, fmt.Errorf("kraken: missing status field")
	}
	return MachineStatus{OK: r.Result.Status == "online", Raw: r.Result.Status}, nil
}

// --- Coinbase ---

// Coinbase reads the public statuspage summary. An indicator of "none" means
// all systems operational.
type Coinbase struct{ httpAdapter }

// NewCoinbase creates a Coinbase adapter.
func NewCoinbase(baseURL string, client *http.Client) *Coinbase {
	return &Coinbase{newHTTPAdapter("COINBASE", baseURL, client)}
}

func (c *Coinbase) FetchStatus(ctx context.Context) (MachineStatus, error) {
	var r struct {
		Status struct {
			Indicator   string `json:"indicator"`
			Description string `json:"description"`
		} `json:"status"`
	}
	if err := getJSON(ctx, c.client, c.baseURL+"/api/v2/status.json", nil, &r); err != nil {
		return MachineStatus{}, err
	}
	if r.Status.Indicator == "" {
		return MachineStatus{}, fmt.Errorf("coinbase: missing status indicator")
	}
	return MachineStatus{OK: r.Status.Indicator == "none", Raw: r.Status.Description}, nil
}

// --- Registry ---

// Registry maps venues to adapters.
type Registry struct {
	adapters map[domain.Venue]Adapter
}

// NewRegistry indexes adapters by venue.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Venue]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Venue()] = a
	}
	return r
}

// Lookup returns the adapter for venue.
func (r *Registry) Lookup(venue domain.Venue) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[venue]
	return a, ok
}

// Endpoints holds the base URLs of the built-in adapters. An empty URL leaves
// the venue without a status capability.
type Endpoints struct {
	Binance       string
	Kraken        string
	Coinbase      string
	BinanceAPIKey string
}

// DefaultRegistry builds the Binance, Kraken and Coinbase adapters.
func DefaultRegistry(ep Endpoints, client *http.Client) *Registry {
	return NewRegistry(
		NewBinance(ep.Binance, ep.BinanceAPIKey, client),
		NewKraken(ep.Kraken, client),
		NewCoinbase(ep.Coinbase, client),
	)
}
