package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFX(t *testing.T, h http.HandlerFunc) (*fxClient, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clock := newFakeClock()
	c := newFXClient(srv.URL+"/", testLogger(t), clock.Now)
	c.attemptDelay = time.Millisecond
	return c, clock
}

func TestFXRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestFX(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"base":"EUR","date":"2025-03-10","rates":{"usd":1.25}}`))
	})

	rates, err := c.rates(context.Background(), "eur")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 1.25, rates["USD"])
	assert.Equal(t, 1.0, rates["EUR"])
}

func TestFXClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestFX(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.rates(context.Background(), "XXX")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFXCachesPerDay(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestFX(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"USD":2}}`))
	})
	ctx := context.Background()

	total, err := c.convert(ctx, map[string]float64{"EUR": 1, "USD": 4}, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 3.0, total)
	_, err = c.convert(ctx, map[string]float64{"USD": 1}, "eur")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(24 * time.Hour)
	_, err = c.rates(ctx, "EUR")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	_, err = c.convert(ctx, map[string]float64{"JPY": 1}, "EUR")
	assert.ErrorContains(t, err, "no EUR rate for JPY")
}
