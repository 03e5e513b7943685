package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

/* ---------- FX rates provider (frankfurter.app compatible, no key) ---------- */
/*
GET {base}/latest?from=EUR
-> {"amount":1.0,"base":"EUR","date":"2025-01-10","rates":{"USD":1.03,...}}
Rates are cached per (base currency, UTC day).
*/

type fxClient struct {
	baseURL      string
	http         *http.Client
	lggr         Logger
	now          func() time.Time
	attempts     uint
	attemptDelay time.Duration

	mu    sync.Mutex
	cache map[string]map[string]float64 // "EUR|2025-01-10" -> rates
}

type fxResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func newFXClient(baseURL string, lggr Logger, now func() time.Time) *fxClient {
	return &fxClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 10 * time.Second},
		lggr:         lggr,
		now:          now,
		attempts:     3,
		attemptDelay: 300 * time.Millisecond,
		cache:        map[string]map[string]float64{},
	}
}

// rates returns how many units of each currency one unit of base buys.
// base itself maps to 1.
func (c *fxClient) rates(ctx context.Context, base string) (map[string]float64, error) {
	base = strings.ToUpper(base)
	key := base + "|" + c.now().UTC().Format(dateLayout)

	c.mu.Lock()
	if r, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	u := c.baseURL + "/latest?" + url.Values{"from": {base}}.Encode()
	resp, err := retry.DoWithData(func() (fxResponse, error) {
		return c.fetch(ctx, u)
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.attemptDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.lggr.Warnw("fx request failed, retrying", "attempt", n+1, "base", base, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(resp.Rates)+1)
	for k, v := range resp.Rates {
		out[strings.ToUpper(k)] = v
	}
	out[base] = 1

	c.mu.Lock()
	c.cache[key] = out
	c.mu.Unlock()
	return out, nil
}

func (c *fxClient) fetch(ctx context.Context, u string) (fxResponse, error) {
	rctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return fxResponse{}, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "apphub-api/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fxResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 240))
		err := fmt.Errorf("fx status=%d body=%q", resp.StatusCode, string(b))
		// 4xx means a bad currency code; asking again will not help
		if resp.StatusCode/100 == 4 {
			return fxResponse{}, retry.Unrecoverable(err)
		}
		return fxResponse{}, err
	}
	var out fxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fxResponse{}, fmt.Errorf("fx decode: %w", err)
	}
	if len(out.Rates) == 0 {
		return fxResponse{}, fmt.Errorf("fx returned no rates")
	}
	return out, nil
}

// convert turns per-currency amounts into one total in target.
func (c *fxClient) convert(ctx context.Context, amounts map[string]float64, target string) (float64, error) {
	target = strings.ToUpper(target)
	r, err := c.rates(ctx, target)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for cur, amt := range amounts {
		rate, ok := r[strings.ToUpper(cur)]
		if !ok || rate <= 0 {
			return 0, fmt.Errorf("no %s rate for %s", target, cur)
		}
		total += amt / rate
	}
	return roundCents(total), nil
}
