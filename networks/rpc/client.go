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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klaytn/chainscope/log"
	"golang.org/x/sync/semaphore"
)

var logger = log.NewModuleLogger(log.RPCClient)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxBatchSize is the largest number of requests sent in one
	// HTTP body.
	DefaultMaxBatchSize = 250
	// DefaultMaxConcurrency bounds concurrent HTTP round trips per client.
	DefaultMaxConcurrency = 10

	retryAttempts = 3
	retryBackoff  = 500 * time.Millisecond
)

// Config carries the named arguments of a JSON-RPC endpoint. Individual
// methods may be routed to dedicated endpoints via MethodURLs; every other
// method goes to URL.
type Config struct {
	URL        string
	MethodURLs map[string]string
	WSURL      string

	Timeout        time.Duration
	MaxBatchSize   int
	MaxConcurrency int
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxBatchSize == 0 {
		out.MaxBatchSize = DefaultMaxBatchSize
	}
	if out.MaxConcurrency == 0 {
		out.MaxConcurrency = DefaultMaxConcurrency
	}
	return out
}

// BatchElem is one request of a batch call.
type BatchElem struct {
	Method string
	Args   []interface{}
	// Result must be a non-nil pointer; left untouched when Error is set.
	Result interface{}
	Error  error
}

// Client issues JSON-RPC calls over HTTP, batched where the caller asks for
// it, and serves push subscriptions over WebSocket.
type Client struct {
	cfg    Config
	hc     *http.Client
	sem    *semaphore.Weighted
	nextID uint64
}

// NewClient creates a client for the given endpoint configuration.
func NewClient(cfg Config) *Client {
	c := cfg.withDefaults()
	return &Client{
		cfg: c,
		hc:  &http.Client{Timeout: c.Timeout},
		sem: semaphore.NewWeighted(int64(c.MaxConcurrency)),
	}
}

func (c *Client) urlFor(method string) string {
	if u, ok := c.cfg.MethodURLs[method]; ok {
		return u
	}
	return c.cfg.URL
}

func (c *Client) newID() json.RawMessage {
	id := atomic.AddUint64(&c.nextID, 1)
	return json.RawMessage(fmt.Sprintf("%d", id))
}

func (c *Client) newMessage(method string, args ...interface{}) (*jsonrpcMessage, error) {
	msg := &jsonrpcMessage{Version: vsn, ID: c.newID(), Method: method}
	if len(args) > 0 {
		params, err := json.Marshal(args)
		if err != nil {
			return nil, decodeError(err)
		}
		msg.Params = params
	}
	return msg, nil
}

// CallContext performs a single JSON-RPC call, decoding the result into
// result unless it is nil.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	msg, err := c.newMessage(method, args...)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.urlFor(method), msg)
	if err != nil {
		return err
	}
	var respMsg jsonrpcMessage
	if err := json.Unmarshal(resp, &respMsg); err != nil {
		return decodeError(err)
	}
	return decodeResult(&respMsg, result)
}

// BatchCallContext performs all requests of the batch, chunked to the
// configured maximum batch size and bounded by the configured concurrency.
// Requests for differently-routed methods never share an HTTP body.
// Per-request failures land in the element's Error field; a returned error
// means the whole round trip failed.
func (c *Client) BatchCallContext(ctx context.Context, batch []BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	groups := map[string][]int{}
	for i := range batch {
		u := c.urlFor(batch[i].Method)
		groups[u] = append(groups[u], i)
	}

	errc := make(chan error, len(batch))
	inFlight := 0
	for url, idxs := range groups {
		for start := 0; start < len(idxs); start += c.cfg.MaxBatchSize {
			end := start + c.cfg.MaxBatchSize
			if end > len(idxs) {
				end = len(idxs)
			}
			chunk := idxs[start:end]
			inFlight++
			go func(url string, chunk []int) {
				errc <- c.sendBatch(ctx, url, batch, chunk)
			}(url, chunk)
		}
	}

	var firstErr error
	for i := 0; i < inFlight; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) sendBatch(ctx context.Context, url string, batch []BatchElem, idxs []int) error {
	msgs := make([]*jsonrpcMessage, len(idxs))
	byID := make(map[string]int, len(idxs))
	for i, bi := range idxs {
		msg, err := c.newMessage(batch[bi].Method, batch[bi].Args...)
		if err != nil {
			return err
		}
		msgs[i] = msg
		byID[string(msg.ID)] = bi
	}

	resp, err := c.post(ctx, url, msgs)
	if err != nil {
		return err
	}
	var respMsgs []jsonrpcMessage
	if err := json.Unmarshal(resp, &respMsgs); err != nil {
		return decodeError(err)
	}
	for i := range respMsgs {
		bi, ok := byID[string(respMsgs[i].ID)]
		if !ok {
			logger.Warn("dropping batch response with unknown id", "id", string(respMsgs[i].ID))
			continue
		}
		batch[bi].Error = decodeResult(&respMsgs[i], batch[bi].Result)
	}
	return nil
}

// post sends the payload, retrying transport and rate-limit failures a
// bounded number of times with linear backoff.
func (c *Client) post(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, transportError(err)
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, decodeError(err)
	}

	var lastErr *Error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, transportError(ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		resp, rerr := c.postOnce(ctx, url, body)
		if rerr == nil {
			return resp, nil
		}
		lastErr = rerr
		if !rerr.Retryable() {
			return nil, rerr
		}
		logger.Debug("retrying rpc round trip", "url", url, "attempt", attempt+1, "err", rerr)
	}
	return nil, lastErr
}

func (c *Client) postOnce(ctx context.Context, url string, body []byte) ([]byte, *Error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, transportError(err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, transportError(err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: ErrorKindRateLimited, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: ErrorKindTransport, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: ErrorKindNodeReject, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return data, nil
}

// decodeResult resolves one response message into the caller's result slot.
// A null result with no error is surfaced as ErrNoResult so callers can
// distinguish "not found" from decode failures.
var ErrNoResult = &Error{Kind: ErrorKindNodeReject, Message: "no result in JSON-RPC response"}

func decodeResult(msg *jsonrpcMessage, result interface{}) error {
	switch {
	case msg.Error != nil:
		return classifyNodeError(msg.Error)
	case len(msg.Result) == 0 || string(msg.Result) == "null":
		return ErrNoResult
	case result == nil:
		return nil
	default:
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return decodeError(err)
		}
		return nil
	}
}
