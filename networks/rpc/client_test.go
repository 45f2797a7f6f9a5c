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
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers eth_chainId with "0x1" and echo_param with its first
// parameter, for both single and batch requests.
func echoServer(t *testing.T, requestCount *int64, batchSizes chan<- int) *httptest.Server {
	t.Helper()
	answer := func(msg jsonrpcMessage) jsonrpcMessage {
		resp := jsonrpcMessage{Version: vsn, ID: msg.ID}
		switch msg.Method {
		case "eth_chainId":
			resp.Result = json.RawMessage(`"0x1"`)
		case "echo_param":
			var params []json.RawMessage
			if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 {
				resp.Error = &jsonError{Code: -32602, Message: "invalid params"}
			} else {
				resp.Result = params[0]
			}
		case "null_result":
			resp.Result = json.RawMessage("null")
		case "always_reject":
			resp.Error = &jsonError{Code: -32000, Message: "execution reverted"}
		case "rate_limited":
			resp.Error = &jsonError{Code: -32005, Message: "rate limit exceeded"}
		default:
			resp.Error = &jsonError{Code: -32601, Message: "method not found"}
		}
		return resp
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCount != nil {
			atomic.AddInt64(requestCount, 1)
		}
		body, err := ioutil.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		if len(body) > 0 && body[0] == '[' {
			var msgs []jsonrpcMessage
			require.NoError(t, json.Unmarshal(body, &msgs))
			if batchSizes != nil {
				batchSizes <- len(msgs)
			}
			resps := make([]jsonrpcMessage, len(msgs))
			for i, msg := range msgs {
				resps[i] = answer(msg)
			}
			json.NewEncoder(w).Encode(resps)
			return
		}
		var msg jsonrpcMessage
		require.NoError(t, json.Unmarshal(body, &msg))
		json.NewEncoder(w).Encode(answer(msg))
	}))
}

func TestCallContext(t *testing.T) {
	srv := echoServer(t, nil, nil)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	var result string
	require.NoError(t, c.CallContext(context.Background(), &result, "eth_chainId"))
	assert.Equal(t, "0x1", result)
}

func TestCallContextNodeReject(t *testing.T) {
	srv := echoServer(t, nil, nil)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	err := c.CallContext(context.Background(), nil, "always_reject")
	require.Error(t, err)
	assert.Equal(t, ErrorKindNodeReject, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestCallContextRateLimited(t *testing.T) {
	srv := echoServer(t, nil, nil)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	err := c.CallContext(context.Background(), nil, "rate_limited")
	require.Error(t, err)
	assert.Equal(t, ErrorKindRateLimited, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestCallContextNullResult(t *testing.T) {
	srv := echoServer(t, nil, nil)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	var result string
	err := c.CallContext(context.Background(), &result, "null_result")
	assert.Equal(t, ErrNoResult, err)
}

func TestBatchCallChunksToMaxBatchSize(t *testing.T) {
	batchSizes := make(chan int, 16)
	srv := echoServer(t, nil, batchSizes)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL, MaxBatchSize: 2})

	batch := make([]BatchElem, 5)
	results := make([]string, 5)
	for i := range batch {
		batch[i] = BatchElem{
			Method: "echo_param",
			Args:   []interface{}{fmt.Sprintf("value-%d", i)},
			Result: &results[i],
		}
	}
	require.NoError(t, c.BatchCallContext(context.Background(), batch))
	close(batchSizes)

	for i := range batch {
		require.NoError(t, batch[i].Error)
		assert.Equal(t, fmt.Sprintf("value-%d", i), results[i])
	}
	for size := range batchSizes {
		assert.LessOrEqual(t, size, 2)
	}
}

func TestBatchCallPerElementErrors(t *testing.T) {
	srv := echoServer(t, nil, nil)
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	var ok string
	batch := []BatchElem{
		{Method: "echo_param", Args: []interface{}{"fine"}, Result: &ok},
		{Method: "always_reject", Result: new(string)},
	}
	require.NoError(t, c.BatchCallContext(context.Background(), batch))
	assert.NoError(t, batch[0].Error)
	assert.Equal(t, "fine", ok)
	require.Error(t, batch[1].Error)
	assert.Equal(t, ErrorKindNodeReject, KindOf(batch[1].Error))
}

func TestPerMethodURLRouting(t *testing.T) {
	var defaultCount, tracerCount int64
	defaultSrv := echoServer(t, &defaultCount, nil)
	defer defaultSrv.Close()
	tracerSrv := echoServer(t, &tracerCount, nil)
	defer tracerSrv.Close()

	c := NewClient(Config{
		URL:        defaultSrv.URL,
		MethodURLs: map[string]string{"echo_param": tracerSrv.URL},
	})

	var result string
	require.NoError(t, c.CallContext(context.Background(), &result, "eth_chainId"))
	require.NoError(t, c.CallContext(context.Background(), &result, "echo_param", "x"))

	assert.Equal(t, int64(1), atomic.LoadInt64(&defaultCount))
	assert.Equal(t, int64(1), atomic.LoadInt64(&tracerCount))
}

func TestTransportErrorsRetried(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := ioutil.ReadAll(r.Body)
		var msg jsonrpcMessage
		json.Unmarshal(body, &msg)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jsonrpcMessage{Version: vsn, ID: msg.ID, Result: json.RawMessage(`"0x1"`)})
	}))
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL})

	var result string
	require.NoError(t, c.CallContext(context.Background(), &result, "eth_chainId"))
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits), "two 5xx responses then success")
}
