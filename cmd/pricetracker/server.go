package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/metrics"
	"pricetracker/internal/price"
	"pricetracker/internal/tracker"
)

const (
	streamPath = "/api/stream"
	eventsPath = "/api/events"
)

// Tracker is the part of *tracker.Tracker the read API needs.
type Tracker interface {
	Assets() []price.Asset
	GetPrice(a price.Asset) (price.Quote, error)
	GetAllPrices() map[price.Asset]price.Quote
	RefreshNow(ctx context.Context) error
	Subscribe() *broadcast.Subscription[price.Quote]
	SubscribeEvents() *broadcast.Subscription[price.Event]
	HealthCheck() tracker.HealthStatus
	ProviderMetrics() []metrics.ProviderMetrics
}

type api struct {
	t       Tracker
	timeout time.Duration
	logger  zerolog.Logger
}

type pricesResponse struct {
	Prices []price.Quote `json:"prices"`
	// Missing lists enabled assets without a fresh price.
	Missing []price.Asset `json:"missing,omitempty"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Asset price.Asset `json:"asset,omitempty"`
	Age   string      `json:"age,omitempty"`
}

func newHandler(t Tracker, timeout time.Duration, logger zerolog.Logger) http.Handler {
	a := &api{t: t, timeout: timeout, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/prices", a.handleGetPrices)
	mux.HandleFunc("GET /api/prices/{asset}", a.handleGetPrice)
	mux.HandleFunc("POST /api/refresh", a.handleRefresh)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/metrics", a.handleMetrics)
	mux.HandleFunc("GET "+streamPath, func(w http.ResponseWriter, r *http.Request) {
		streamSSE(w, r, a.t.Subscribe(), "price", a.logger)
	})
	mux.HandleFunc("GET "+eventsPath, func(w http.ResponseWriter, r *http.Request) {
		streamSSE(w, r, a.t.SubscribeEvents(), "event", a.logger)
	})

	return withJSONHeaders(withGzip(recoverPanic(logger, limitBody(mux))))
}

func (a *api) prices() pricesResponse {
	fresh := a.t.GetAllPrices()
	resp := pricesResponse{Prices: make([]price.Quote, 0, len(fresh))}
	for _, as := range a.t.Assets() {
		if q, ok := fresh[as]; ok {
			resp.Prices = append(resp.Prices, q)
		} else {
			resp.Missing = append(resp.Missing, as)
		}
	}
	return resp
}

func (a *api) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.prices())
}

func (a *api) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	as, err := price.ParseAsset(r.PathValue("asset"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	q, err := a.t.GetPrice(as)
	if err != nil {
		writePriceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.t.RefreshNow(ctx); err != nil {
		switch {
		case errors.Is(err, tracker.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		case errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "refresh timed out"})
		default:
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, a.prices())
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := a.t.HealthCheck()
	code := http.StatusOK
	if h.Status == tracker.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (a *api) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.t.ProviderMetrics())
}

func writePriceError(w http.ResponseWriter, err error) {
	var pe *price.Error
	if !errors.As(err, &pe) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	resp := errorResponse{Error: pe.Error(), Asset: pe.Asset}
	switch pe.Kind {
	case price.NotAvailable:
		writeJSON(w, http.StatusNotFound, resp)
	case price.Stale:
		resp.Age = pe.Age.Truncate(time.Second).String()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// streamSSE relays sub as server-sent events until the client goes away or
// the hub closes. A subscriber that falls behind gets an "event: lagged"
// frame with the number of values it missed and carries on.
func streamSSE[T any](w http.ResponseWriter, r *http.Request, sub *broadcast.Subscription[T], name string, logger zerolog.Logger) {
	defer sub.Close()

	rc := http.NewResponseController(w)
	// The server write timeout is for ordinary requests.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("streaming unsupported by response writer")
		return
	}

	ctx := r.Context()
	for {
		v, err := sub.Recv(ctx)
		var lagged *broadcast.LaggedError
		switch {
		case errors.As(err, &lagged):
			_, err = fmt.Fprintf(w, "event: lagged\ndata: {\"missed\":%d}\n\n", lagged.Missed)
		case err != nil:
			return
		default:
			var data []byte
			if data, err = json.Marshal(v); err == nil {
				_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			}
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.Debug().Err(err).Msg("sse client gone")
			return
		}
	}
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip. Event
// streams are left alone so every frame reaches the client when flushed.
func withGzip(next http.Handler) http.Handler {
	gzPool := sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.URL.Path == streamPath || r.URL.Path == eventsPath {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request bodies at 1MB.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

func recoverPanic(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
