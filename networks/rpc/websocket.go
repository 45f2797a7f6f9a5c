// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrNoWebSocket is returned by Subscribe when the client has no WS endpoint
// configured. Subscriptions are a best-effort nudge; callers fall back to
// polling.
var ErrNoWebSocket = errors.New("no websocket endpoint configured")

// ClientSubscription is an active eth_subscribe stream.
type ClientSubscription struct {
	conn  *websocket.Conn
	subID string
	errCh chan error

	quitOnce sync.Once
	quit     chan struct{}
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Subscribe opens the configured WebSocket endpoint and subscribes to the
// given event (for example "newHeads"). Pushed payloads are delivered on ch
// until the subscription errors or is unsubscribed.
func (c *Client) Subscribe(ctx context.Context, event string, ch chan<- json.RawMessage) (*ClientSubscription, error) {
	if c.cfg.WSURL == "" {
		return nil, ErrNoWebSocket
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, transportError(err)
	}

	msg, err := c.newMessage("eth_subscribe", event)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, transportError(err)
	}

	var resp jsonrpcMessage
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, transportError(err)
	}
	var subID string
	if err := decodeResult(&resp, &subID); err != nil {
		conn.Close()
		return nil, err
	}

	sub := &ClientSubscription{
		conn:  conn,
		subID: subID,
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
	go sub.readLoop(ch)
	logger.Info("websocket subscription established", "event", event, "id", subID)
	return sub, nil
}

func (s *ClientSubscription) readLoop(ch chan<- json.RawMessage) {
	for {
		var msg jsonrpcMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case s.errCh <- transportError(err):
			default:
			}
			return
		}
		if !msg.isNotification() {
			continue
		}
		var params subscriptionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			logger.Warn("dropping undecodable subscription notification", "err", err)
			continue
		}
		if params.Subscription != s.subID {
			continue
		}
		select {
		case ch <- params.Result:
		case <-s.quit:
			return
		}
	}
}

// Err reports the terminal failure of the subscription, if any.
func (s *ClientSubscription) Err() <-chan error { return s.errCh }

// Unsubscribe tears the stream down. Safe to call more than once.
func (s *ClientSubscription) Unsubscribe() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.conn.WriteJSON(&jsonrpcMessage{Version: vsn, ID: json.RawMessage("0"), Method: "eth_unsubscribe", Params: json.RawMessage(`["` + s.subID + `"]`)})
		s.conn.Close()
	})
}
