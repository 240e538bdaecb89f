package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect backoff bounds for the push subscription.
const (
	subscribeBackoffMin = time.Second
	subscribeBackoffMax = time.Minute
)

// changeSignal is the only message the store pushes: something of this
// record type changed, re-query. No payload is ever delivered.
type changeSignal struct {
	Type       string `json:"type"`
	RecordType string `json:"record_type"`
}

// Subscribe opens the push-invalidation stream and invokes notify with the
// record type of every change signal. It blocks until the context is
// cancelled, reconnecting with backoff on any failure; a missed signal is
// harmless because the next interval sync re-reads everything anyway.
func (c *Client) Subscribe(ctx context.Context, recordTypes []string, notify func(recordType string)) {
	wsURL, err := c.subscribeURL(recordTypes)
	if err != nil {
		c.logger.Error("invalid subscription url", "error", err)
		return
	}

	backoff := subscribeBackoffMin
	for {
		if err := c.readSignals(ctx, wsURL, notify); err != nil {
			c.logger.Debug("subscription dropped", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > subscribeBackoffMax {
			backoff = subscribeBackoffMax
		}
	}
}

// readSignals holds one websocket connection open and forwards signals.
func (c *Client) readSignals(ctx context.Context, wsURL string, notify func(recordType string)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Reader unblocks on context cancellation via closed connection. The
	// watcher is released when this connection ends, so reconnects do not
	// accumulate goroutines.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	c.logger.Debug("push subscription established")
	for {
		var signal changeSignal
		if err := conn.ReadJSON(&signal); err != nil {
			return err
		}
		if signal.Type != "changed" {
			continue
		}
		notify(signal.RecordType)
	}
}

// subscribeURL derives the websocket endpoint from the HTTP base URL.
func (c *Client) subscribeURL(recordTypes []string) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/subscribe")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("types", strings.Join(recordTypes, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
