package hermes

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/httpx"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

// StartStreaming follows /v2/updates/price/stream until ctx is canceled.
func (p *Provider) StartStreaming(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) error {
	if !p.cfg.Streaming {
		return provider.ErrNotStreaming
	}
	return provider.RunStream(ctx, p.cfg.Name, p.cfg.Reconnect, p.logger, func(ctx context.Context) (bool, error) {
		return p.session(ctx, store, tx)
	})
}

var errIdle = errors.New("event stream idle")

func (p *Provider) session(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) (bool, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idx, q := feedIndex(store.Assets())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v2/updates/price/stream?"+q.Encode(), nil)
	if err != nil {
		return false, provider.Network(p.cfg.Name, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.stream.Do(req)
	if err != nil {
		return false, httpx.Classify(p.cfg.Name, err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return false, httpx.Classify(p.cfg.Name, err)
	}
	p.logger.Info().Str("provider", p.cfg.Name).Msg("stream connected")

	// Any line, keep-alive comments included, counts as activity. Firing
	// cancels the request and unblocks the reader.
	idle := time.AfterFunc(p.cfg.IdleTimeout, func() { cancel(errIdle) })
	defer idle.Stop()

	delivered := false
	err = readEvents(resp.Body, func() { idle.Reset(p.cfg.IdleTimeout) }, func(event, data string) {
		if event != "" && event != "message" && event != "price_update" {
			return
		}
		var msg updatesMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			p.logger.Warn().Str("provider", p.cfg.Name).Err(err).Msg("bad event payload")
			return
		}
		for _, q := range p.quotes(msg, idx) {
			if provider.Emit(store, tx, q) {
				delivered = true
			}
		}
	})
	if errors.Is(context.Cause(ctx), errIdle) {
		return delivered, provider.TimedOut(p.cfg.Name, errIdle)
	}
	if err == nil {
		err = io.EOF
	}
	return delivered, provider.Network(p.cfg.Name, err)
}

// readEvents parses a text/event-stream body, calling fn once per
// dispatched event and onLine, when set, for every line read. Comments and
// fields other than event and data are otherwise ignored.
func readEvents(r io.Reader, onLine func(), fn func(event, data string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	var event string
	var data strings.Builder
	for sc.Scan() {
		if onLine != nil {
			onLine()
		}
		line := sc.Text()
		if line == "" {
			if data.Len() > 0 {
				fn(event, data.String())
			}
			event = ""
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	return sc.Err()
}
