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

package client

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeStub serves a single block, 0x64 with one transaction, which is also
// the tip; every other block number answers null.
func nodeStub(t *testing.T) *httptest.Server {
	t.Helper()
	blockJSON := `{
		"hash": "0x00000000000000000000000000000000000000000000000000000000000000b1",
		"number": "0x64",
		"parentHash": "0x00000000000000000000000000000000000000000000000000000000000000b0",
		"miner": "0x00000000000000000000000000000000000000cd",
		"timestamp": "0x5c8f6e40",
		"difficulty": "0x20000",
		"totalDifficulty": "0x400000",
		"gasUsed": "0x5208",
		"gasLimit": "0x7a1200",
		"size": "0x220",
		"nonce": "0x0000000000000042",
		"uncles": [],
		"transactions": [{
			"hash": "0x00000000000000000000000000000000000000000000000000000000000000a1",
			"nonce": "0x7",
			"from": "0x00000000000000000000000000000000000000ef",
			"to": "0x00000000000000000000000000000000000000ab",
			"value": "0xde0b6b3a7640000",
			"gas": "0xc350",
			"gasPrice": "0x3b9aca00",
			"input": "0x",
			"v": "0x1b", "r": "0x2", "s": "0x3",
			"blockHash": "0x00000000000000000000000000000000000000000000000000000000000000b1",
			"blockNumber": "0x64",
			"transactionIndex": "0x0"
		}]
	}`
	receiptJSON := `{
		"transactionHash": "0x00000000000000000000000000000000000000000000000000000000000000a1",
		"transactionIndex": "0x0",
		"blockHash": "0x00000000000000000000000000000000000000000000000000000000000000b1",
		"blockNumber": "0x64",
		"cumulativeGasUsed": "0x5208",
		"gasUsed": "0x5208",
		"contractAddress": null,
		"status": "0x1",
		"logs": []
	}`

	answer := func(method string, params []json.RawMessage) json.RawMessage {
		switch method {
		case "eth_getBlockByNumber":
			var tag string
			json.Unmarshal(params[0], &tag)
			if tag == "latest" || tag == "0x64" {
				return json.RawMessage(blockJSON)
			}
			return json.RawMessage("null")
		case "eth_getTransactionReceipt":
			var hash string
			json.Unmarshal(params[0], &hash)
			if hash == "0x00000000000000000000000000000000000000000000000000000000000000a1" {
				return json.RawMessage(receiptJSON)
			}
			return json.RawMessage("null")
		case "eth_getBalance":
			return json.RawMessage(`"0xde0b6b3a7640000"`)
		case "eth_call":
			return json.RawMessage(`"0x00000000000000000000000000000000000000000000000000000000000003e8"`)
		default:
			return json.RawMessage("null")
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")

		type reqMsg struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		type respMsg struct {
			Version string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Result  json.RawMessage `json:"result"`
		}
		if len(body) > 0 && body[0] == '[' {
			var msgs []reqMsg
			require.NoError(t, json.Unmarshal(body, &msgs))
			resps := make([]respMsg, len(msgs))
			for i, m := range msgs {
				resps[i] = respMsg{Version: "2.0", ID: m.ID, Result: answer(m.Method, m.Params)}
			}
			json.NewEncoder(w).Encode(resps)
			return
		}
		var m reqMsg
		require.NoError(t, json.Unmarshal(body, &m))
		json.NewEncoder(w).Encode(respMsg{Version: "2.0", ID: m.ID, Result: answer(m.Method, m.Params)})
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	return NewClient(rpc.NewClient(rpc.Config{URL: url}), DefaultTracerConfig())
}

func TestFetchBlocksByRange(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	result, err := ec.FetchBlocksByRange(context.Background(), 100, 100)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, NextMore, result.Next)

	b := result.Blocks[0]
	assert.Equal(t, uint64(100), b.Number)
	assert.Equal(t, uint64(21000), b.GasUsed)
	assert.Equal(t, uint64(0x42), b.Nonce)
	assert.True(t, b.Consensus)

	tx := result.Transactions[0]
	assert.Equal(t, uint64(7), tx.Nonce)
	require.NotNil(t, tx.BlockNumber)
	assert.Equal(t, uint64(100), *tx.BlockNumber)
	require.NotNil(t, tx.Index)
	assert.Equal(t, uint32(0), *tx.Index)
	assert.Equal(t, "1000000000000000000", tx.Value.String())
}

func TestFetchBlocksByRangeEndOfChain(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	result, err := ec.FetchBlocksByRange(context.Background(), 100, 102)
	require.NoError(t, err)
	assert.Len(t, result.Blocks, 1, "only the tip block exists")
	assert.Equal(t, NextEndOfChain, result.Next)
}

func TestFetchBlockNumberByTag(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	number, err := ec.FetchBlockNumberByTag(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), number)
}

func TestFetchTransactionReceipts(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	hash := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000a1")
	result, err := ec.FetchTransactionReceipts(context.Background(), []ReceiptRef{{Hash: hash, BlockNumber: 100}})
	require.NoError(t, err)
	require.Len(t, result.Receipts, 1)
	r := result.Receipts[0]
	assert.Equal(t, uint64(21000), r.GasUsed)
	require.NotNil(t, r.RawStatus)
	assert.Equal(t, uint64(1), *r.RawStatus)
}

func TestFetchTransactionReceiptsNotMined(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	_, err := ec.FetchTransactionReceipts(context.Background(), []ReceiptRef{{Hash: common.HexToHash("0xff")}})
	assert.Equal(t, ErrReceiptNotMined, err)
}

func TestFetchBalances(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	balances, err := ec.FetchBalances(context.Background(), []BalanceRef{
		{Address: common.HexToAddress("0xab"), BlockNumber: 100},
	})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "1000000000000000000", balances[0].Value.String())
	assert.NotNil(t, balances[0].ValueFetchedAt)
	assert.Equal(t, uint64(100), balances[0].BlockNumber)
}

func TestFetchTokenBalances(t *testing.T) {
	srv := nodeStub(t)
	defer srv.Close()
	ec := newTestClient(t, srv.URL)

	balances, err := ec.FetchTokenBalances(context.Background(), []TokenBalanceRef{{
		Address:              common.HexToAddress("0xab"),
		TokenContractAddress: common.HexToAddress("0xee"),
		BlockNumber:          100,
	}})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "1000", balances[0].Value.String())
}

func TestFlattenCallFrames(t *testing.T) {
	frame := rpcCallFrame{
		Type:  "CALL",
		From:  common.HexToAddress("0x01"),
		Value: "0x0",
		Gas:   "0x5208",
		Calls: []rpcCallFrame{
			{Type: "CREATE", From: common.HexToAddress("0x01"), Input: "0x6080", Output: "0x6001",
				To: addrPtr("0x02")},
			{Type: "CALL", From: common.HexToAddress("0x01"), To: addrPtr("0x03"), Error: "execution reverted"},
		},
	}

	itxs, err := frame.flatten(common.HexToHash("0xa1"), 100)
	require.NoError(t, err)
	require.Len(t, itxs, 3)

	assert.Equal(t, types.ITxTypeCall, itxs[0].Type)
	assert.Empty(t, itxs[0].TraceAddress)
	assert.Equal(t, uint32(0), itxs[0].Index)

	create := itxs[1]
	assert.Equal(t, types.ITxTypeCreate, create.Type)
	assert.Equal(t, []uint32{0}, create.TraceAddress)
	require.NotNil(t, create.CreatedContractAddressHash)
	assert.Equal(t, []byte{0x60, 0x01}, create.CreatedContractCode)
	assert.Equal(t, []byte{0x60, 0x80}, create.Init)
	assert.Nil(t, create.To)

	failed := itxs[2]
	assert.Equal(t, []uint32{1}, failed.TraceAddress)
	require.NotNil(t, failed.Error)
	assert.False(t, failed.Succeeded())
}

func addrPtr(s string) *common.Address {
	a := common.HexToAddress(s)
	return &a
}
