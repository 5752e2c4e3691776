package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
	"github.com/zydorg/kemunify/pkg/logger"
)

const progressInterval = time.Second

// Client talks JSON to the ledger API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
	}
}

// do sends body as JSON and decodes the response into out when out is not
// nil. Any status other than want is an error.
func (c *Client) do(ctx context.Context, method, path string, body, out any, want int) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

// WasteTypes lists the ledger.
func (c *Client) WasteTypes(ctx context.Context) ([]model.WasteType, error) {
	var out []model.WasteType
	err := c.do(ctx, http.MethodGet, "/waste-types", nil, &out, http.StatusOK)
	return out, err
}

// Customers lists registered customers.
func (c *Client) Customers(ctx context.Context) ([]model.Customer, error) {
	var out []model.Customer
	err := c.do(ctx, http.MethodGet, "/customers", nil, &out, http.StatusOK)
	return out, err
}

// AddCustomer registers d.
func (c *Client) AddCustomer(ctx context.Context, d Deposit) error {
	return c.do(ctx, http.MethodPost, "/customers", d, nil, http.StatusCreated)
}

// DeleteCustomer removes name and reports whether it existed.
func (c *Client) DeleteCustomer(ctx context.Context, name string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/customers/"+url.PathEscape(name), nil, &out, http.StatusOK)
	return out.Deleted, err
}

// Stats fetches the service counters.
func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	var out types.Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out, http.StatusOK)
	return out, err
}

// submitDeposits registers the deposits with at most cfg.Workers requests in
// flight. Individual failures are counted, not fatal.
func submitDeposits(ctx context.Context, cfg *Config, client *Client, deposits []Deposit, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "submitting deposits", logger.Int("customers", len(deposits)), logger.Int("workers", cfg.Workers))

	var created, failed, lastReport atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, d := range deposits {
		g.Go(func() error {
			if err := client.AddCustomer(gctx, d); err != nil {
				failed.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "deposit failed", logger.String("customer", d.Name), logger.Error(err))
				}
			} else {
				created.Add(1)
			}

			now := time.Now().UnixNano()
			last := lastReport.Load()
			if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
				log.Info(gctx, "progress",
					logger.Int64("created", created.Load()),
					logger.Int64("failed", failed.Load()),
					logger.Int("total", len(deposits)))
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	stats.CustomersCreated = int(created.Load())
	stats.CustomersFailed = int(failed.Load())
	log.Info(ctx, "deposit submission completed",
		logger.Int("created", stats.CustomersCreated),
		logger.Int("failed", stats.CustomersFailed))
	return err
}

// deleteCustomers removes the generated customers concurrently.
func deleteCustomers(ctx context.Context, cfg *Config, client *Client, names []string, stats *Stats) error {
	var deleted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, name := range names {
		g.Go(func() error {
			ok, err := client.DeleteCustomer(gctx, name)
			if err != nil {
				return fmt.Errorf("delete %s: %w", name, err)
			}
			if ok {
				deleted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.CustomersDeleted = int(deleted.Load())
	return err
}
