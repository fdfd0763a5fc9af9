package hyperliquid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"pricetracker/internal/broadcast"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
)

type subscribeMsg struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription,omitempty"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

// StartStreaming subscribes to allMids and keeps store current until ctx is
// canceled. Dropped sockets are redialed per cfg.Reconnect.
func (p *Provider) StartStreaming(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) error {
	if !p.cfg.Streaming {
		return provider.ErrNotStreaming
	}
	return provider.RunStream(ctx, p.cfg.Name, p.cfg.Reconnect, p.logger, func(ctx context.Context) (bool, error) {
		return p.session(ctx, store, tx)
	})
}

func (p *Provider) session(ctx context.Context, store *price.Store, tx broadcast.Publisher[price.Quote]) (bool, error) {
	dialer := websocket.Dialer{Proxy: websocket.DefaultDialer.Proxy, HandshakeTimeout: p.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.cfg.WSURL, nil)
	if err != nil {
		return false, provider.Network(p.cfg.Name, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := subscribeMsg{Method: "subscribe", Subscription: map[string]string{"type": "allMids"}}
	if err := conn.WriteJSON(sub); err != nil {
		return false, provider.Network(p.cfg.Name, err)
	}
	p.logger.Info().Str("provider", p.cfg.Name).Str("url", p.cfg.WSURL).Msg("stream connected")

	// The pinger is the only writer once the subscription is sent.
	pingDone := make(chan struct{})
	defer close(pingDone)
	if p.cfg.PingInterval > 0 {
		go p.ping(conn, pingDone)
	}

	assets := store.Assets()
	delivered := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return delivered, provider.Network(p.cfg.Name, err)
		}
		if msg.Channel != "allMids" {
			continue
		}
		var data allMidsData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			p.logger.Warn().Str("provider", p.cfg.Name).Err(err).Msg("bad allMids payload")
			continue
		}
		for _, q := range p.quotes(data.Mids, assets) {
			if provider.Emit(store, tx, q) {
				delivered = true
			}
		}
	}
}

func (p *Provider) ping(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(p.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteJSON(subscribeMsg{Method: "ping"}); err != nil {
				return
			}
		}
	}
}
