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

package sqldb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
)

// runAddresses upserts address rows by hash. An existing row keeps its
// earliest inserted_at and latest updated_at; contract code is only filled
// in when previously unknown; a fetched balance only advances when its
// block number does.
func (im *Importer) runAddresses(ctx context.Context, tx *sql.Tx, accounts []*types.Account, result *Result) error {
	deduped := map[common.Address]*types.Account{}
	for _, a := range accounts {
		cur, ok := deduped[a.Hash]
		if !ok {
			deduped[a.Hash] = a
			continue
		}
		if len(cur.ContractCode) == 0 && len(a.ContractCode) > 0 {
			cur.ContractCode = a.ContractCode
		}
		if a.FetchedBalanceBlockNumber != nil &&
			(cur.FetchedBalanceBlockNumber == nil || *a.FetchedBalanceBlockNumber >= *cur.FetchedBalanceBlockNumber) {
			cur.FetchedBalance = a.FetchedBalance
			cur.FetchedBalanceBlockNumber = a.FetchedBalanceBlockNumber
		}
	}
	sorted := make([]*types.Account, 0, len(deduped))
	for _, a := range deduped {
		sorted = append(sorted, a)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Hash.Bytes(), sorted[j].Hash.Bytes()) < 0
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, a := range sorted {
		rows = append(rows, []interface{}{
			a.Hash.Bytes(), bigVal(a.FetchedBalance), uintVal(a.FetchedBalanceBlockNumber),
			bytesVal(a.ContractCode), now, now,
		})
	}
	err := bulkInsert(ctx, tx, "addresses",
		[]string{"hash", "fetched_balance", "fetched_balance_block_number", "contract_code", "inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE
		   fetched_balance = IF(VALUES(fetched_balance_block_number) IS NULL, fetched_balance,
		     IF(fetched_balance_block_number IS NULL OR VALUES(fetched_balance_block_number) >= fetched_balance_block_number,
		        VALUES(fetched_balance), fetched_balance)),
		   fetched_balance_block_number = IF(VALUES(fetched_balance_block_number) IS NULL, fetched_balance_block_number,
		     IF(fetched_balance_block_number IS NULL OR VALUES(fetched_balance_block_number) >= fetched_balance_block_number,
		        VALUES(fetched_balance_block_number), fetched_balance_block_number)),
		   contract_code = IF(contract_code IS NULL, VALUES(contract_code), contract_code),
		   inserted_at = LEAST(inserted_at, VALUES(inserted_at)),
		   updated_at = GREATEST(updated_at, VALUES(updated_at))`,
		rows, im.store.BulkInsertSize())
	if err != nil {
		return err
	}
	result.Addresses = sorted
	return nil
}

// runCoinBalances upserts coin balances by (address_hash, block_number). A
// fetched value never regresses to unfetched.
func (im *Importer) runCoinBalances(ctx context.Context, tx *sql.Tx, balances []*types.CoinBalance, result *Result) error {
	sorted := append([]*types.CoinBalance{}, balances...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].AddressHash.Bytes(), sorted[j].AddressHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].BlockNumber < sorted[j].BlockNumber
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, b := range sorted {
		rows = append(rows, []interface{}{
			b.AddressHash.Bytes(), b.BlockNumber, bigVal(b.Value), timeVal(b.ValueFetchedAt), now, now,
		})
	}
	err := bulkInsert(ctx, tx, "address_coin_balances",
		[]string{"address_hash", "block_number", "value", "value_fetched_at", "inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE
		   value = IF(VALUES(value_fetched_at) IS NULL, value, VALUES(value)),
		   value_fetched_at = COALESCE(VALUES(value_fetched_at), value_fetched_at),
		   updated_at = GREATEST(updated_at, VALUES(updated_at))`,
		rows, im.store.BulkInsertSize())
	if err != nil {
		return err
	}
	result.CoinBalances = sorted
	return nil
}

// runBlockSecondDegreeRelations records uncle references, ignoring ones
// already known.
func (im *Importer) runBlockSecondDegreeRelations(ctx context.Context, tx *sql.Tx, relations []*types.BlockSecondDegreeRelation) error {
	sorted := append([]*types.BlockSecondDegreeRelation{}, relations...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].NephewHash.Bytes(), sorted[j].NephewHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return bytes.Compare(sorted[i].UncleHash.Bytes(), sorted[j].UncleHash.Bytes()) < 0
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, []interface{}{
			r.NephewHash.Bytes(), r.UncleHash.Bytes(), timeVal(r.UncleFetchedAt), now, now,
		})
	}
	return bulkInsert(ctx, tx, "block_second_degree_relations",
		[]string{"nephew_hash", "uncle_hash", "uncle_fetched_at", "inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE nephew_hash = nephew_hash`,
		rows, im.store.BulkInsertSize())
}

var transactionCols = []string{
	"hash", "nonce", "from_address_hash", "to_address_hash", "value", "gas", "gas_price",
	"input", "v", "r", "s", "block_hash", "block_number", "`index`",
	"cumulative_gas_used", "gas_used", "status", "error", "created_contract_address_hash",
	"inserted_at", "updated_at",
}

func transactionRow(t *types.Transaction, now time.Time) []interface{} {
	return []interface{}{
		t.Hash.Bytes(), t.Nonce, t.From.Bytes(), addrVal(t.To), bigVal(t.Value), t.Gas, bigVal(t.GasPrice),
		bytesVal(t.Input), bigVal(t.V), bigVal(t.R), bigVal(t.S), hashVal(t.BlockHash), uintVal(t.BlockNumber),
		uint32Val(t.Index), uintVal(t.CumulativeGasUsed), uintVal(t.GasUsed), t.Status.DBValue(),
		strVal(t.Error), addrVal(t.CreatedContractAddress), now, now,
	}
}

// runTransactions upserts transactions by hash. Collated params replace the
// stored row wholesale (pending to collated transitions); purely pending
// params never clobber an already-collated row.
func (im *Importer) runTransactions(ctx context.Context, tx *sql.Tx, txs []*types.Transaction, result *Result) error {
	var collated, pending []*types.Transaction
	for _, t := range txs {
		if t.Collated() {
			collated = append(collated, t)
		} else {
			pending = append(pending, t)
		}
	}
	byHash := func(list []*types.Transaction) {
		sort.Slice(list, func(i, j int) bool {
			return bytes.Compare(list[i].Hash.Bytes(), list[j].Hash.Bytes()) < 0
		})
	}
	byHash(collated)
	byHash(pending)

	now := time.Now().UTC()
	if len(collated) > 0 {
		rows := make([][]interface{}, 0, len(collated))
		for _, t := range collated {
			rows = append(rows, transactionRow(t, now))
		}
		err := bulkInsert(ctx, tx, "transactions", transactionCols,
			"ON DUPLICATE KEY UPDATE "+
				"nonce = VALUES(nonce), from_address_hash = VALUES(from_address_hash), "+
				"to_address_hash = VALUES(to_address_hash), value = VALUES(value), gas = VALUES(gas), "+
				"gas_price = VALUES(gas_price), input = VALUES(input), v = VALUES(v), r = VALUES(r), s = VALUES(s), "+
				"block_hash = VALUES(block_hash), block_number = VALUES(block_number), `index` = VALUES(`index`), "+
				"cumulative_gas_used = VALUES(cumulative_gas_used), gas_used = VALUES(gas_used), "+
				"status = VALUES(status), error = VALUES(error), "+
				"created_contract_address_hash = VALUES(created_contract_address_hash), "+
				"updated_at = GREATEST(updated_at, VALUES(updated_at))",
			rows, im.store.BulkInsertSize())
		if err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		rows := make([][]interface{}, 0, len(pending))
		for _, t := range pending {
			rows = append(rows, transactionRow(t, now))
		}
		err := bulkInsert(ctx, tx, "transactions", transactionCols,
			"ON DUPLICATE KEY UPDATE hash = hash",
			rows, im.store.BulkInsertSize())
		if err != nil {
			return err
		}
	}
	result.Transactions = txs
	return nil
}

// runTransactionForks upserts forks by (uncle_hash, index), replacing the
// recorded transaction hash on conflict.
func (im *Importer) runTransactionForks(ctx context.Context, tx *sql.Tx, forks []*types.TransactionFork) error {
	sorted := append([]*types.TransactionFork{}, forks...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].UncleHash.Bytes(), sorted[j].UncleHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].Index < sorted[j].Index
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, f := range sorted {
		rows = append(rows, []interface{}{f.UncleHash.Bytes(), f.Index, f.Hash.Bytes(), now, now})
	}
	return bulkInsert(ctx, tx, "transaction_forks",
		[]string{"uncle_hash", "`index`", "hash", "inserted_at", "updated_at"},
		"ON DUPLICATE KEY UPDATE hash = VALUES(hash), updated_at = GREATEST(updated_at, VALUES(updated_at))",
		rows, im.store.BulkInsertSize())
}

// runInternalTransactions upserts trace entries by (transaction_hash, index)
// and stamps the parent transactions as trace-indexed.
func (im *Importer) runInternalTransactions(ctx context.Context, tx *sql.Tx, itxs []*types.InternalTransaction, result *Result) error {
	sorted := append([]*types.InternalTransaction{}, itxs...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].TransactionHash.Bytes(), sorted[j].TransactionHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].Index < sorted[j].Index
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	txHashSet := map[common.Hash]struct{}{}
	for _, itx := range sorted {
		traceAddr, err := json.Marshal(itx.TraceAddress)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			itx.TransactionHash.Bytes(), itx.Index, itx.BlockNumber, itx.Type.String(), itx.CallType,
			itx.From.Bytes(), addrVal(itx.To), bigVal(itx.Value), uintVal(itx.Gas), uintVal(itx.GasUsed),
			bytesVal(itx.Input), bytesVal(itx.Output), bytesVal(itx.Init),
			addrVal(itx.CreatedContractAddressHash), bytesVal(itx.CreatedContractCode),
			string(traceAddr), strVal(itx.Error), now, now,
		})
		txHashSet[itx.TransactionHash] = struct{}{}
	}
	err := bulkInsert(ctx, tx, "internal_transactions",
		[]string{"transaction_hash", "`index`", "block_number", "type", "call_type",
			"from_address_hash", "to_address_hash", "value", "gas", "gas_used",
			"input", "output", "init", "created_contract_address_hash", "created_contract_code",
			"trace_address", "error", "inserted_at", "updated_at"},
		"ON DUPLICATE KEY UPDATE "+
			"block_number = VALUES(block_number), type = VALUES(type), call_type = VALUES(call_type), "+
			"from_address_hash = VALUES(from_address_hash), to_address_hash = VALUES(to_address_hash), "+
			"value = VALUES(value), gas = VALUES(gas), gas_used = VALUES(gas_used), "+
			"input = VALUES(input), output = VALUES(output), init = VALUES(init), "+
			"created_contract_address_hash = VALUES(created_contract_address_hash), "+
			"created_contract_code = VALUES(created_contract_code), trace_address = VALUES(trace_address), "+
			"error = VALUES(error), updated_at = GREATEST(updated_at, VALUES(updated_at))",
		rows, im.store.BulkInsertSize())
	if err != nil {
		return err
	}

	txHashes := make([]common.Hash, 0, len(txHashSet))
	for h := range txHashSet {
		txHashes = append(txHashes, h)
	}
	sort.Slice(txHashes, func(i, j int) bool {
		return bytes.Compare(txHashes[i].Bytes(), txHashes[j].Bytes()) < 0
	})
	args := hashArgs(txHashes)
	if err := lockRows(ctx, tx,
		"SELECT hash FROM transactions WHERE hash IN ("+inPlaceholders(len(args))+") ORDER BY hash FOR UPDATE",
		args...); err != nil {
		return err
	}
	updateArgs := append([]interface{}{now}, args...)
	if _, err := tx.ExecContext(ctx,
		"UPDATE transactions SET internal_transactions_indexed_at = ? WHERE hash IN ("+inPlaceholders(len(args))+")",
		updateArgs...); err != nil {
		return err
	}

	result.InternalTransactions = sorted
	return nil
}

// runLogs upserts logs by (transaction_hash, index).
func (im *Importer) runLogs(ctx context.Context, tx *sql.Tx, logs []*types.Log, result *Result) error {
	sorted := append([]*types.Log{}, logs...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].TransactionHash.Bytes(), sorted[j].TransactionHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].Index < sorted[j].Index
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, l := range sorted {
		topics := make([]interface{}, 4)
		for i := 0; i < 4; i++ {
			if i < len(l.Topics) {
				topics[i] = l.Topics[i].Bytes()
			}
		}
		row := []interface{}{l.TransactionHash.Bytes(), l.Index, l.BlockNumber, l.Address.Bytes(), bytesVal(l.Data)}
		row = append(row, topics...)
		row = append(row, now, now)
		rows = append(rows, row)
	}
	err := bulkInsert(ctx, tx, "logs",
		[]string{"transaction_hash", "`index`", "block_number", "address_hash", "data",
			"first_topic", "second_topic", "third_topic", "fourth_topic", "inserted_at", "updated_at"},
		"ON DUPLICATE KEY UPDATE "+
			"block_number = VALUES(block_number), address_hash = VALUES(address_hash), data = VALUES(data), "+
			"first_topic = VALUES(first_topic), second_topic = VALUES(second_topic), "+
			"third_topic = VALUES(third_topic), fourth_topic = VALUES(fourth_topic), "+
			"updated_at = GREATEST(updated_at, VALUES(updated_at))",
		rows, im.store.BulkInsertSize())
	if err != nil {
		return err
	}
	result.Logs = sorted
	return nil
}

// runTokens upserts token contracts by address. The conflict policy is
// configurable because metadata enrichment arrives out of band.
func (im *Importer) runTokens(ctx context.Context, tx *sql.Tx, tokens []*types.Token) error {
	sorted := append([]*types.Token{}, tokens...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ContractAddressHash.Bytes(), sorted[j].ContractAddressHash.Bytes()) < 0
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, t := range sorted {
		rows = append(rows, []interface{}{
			t.ContractAddressHash.Bytes(), t.Name, t.Symbol, t.Decimals, t.TokenType, now, now,
		})
	}
	suffix := "ON DUPLICATE KEY UPDATE contract_address_hash = contract_address_hash"
	if im.tokensOnConflict == TokensConflictReplaceAll {
		suffix = "ON DUPLICATE KEY UPDATE name = VALUES(name), symbol = VALUES(symbol), " +
			"decimals = VALUES(decimals), token_type = VALUES(token_type), " +
			"updated_at = GREATEST(updated_at, VALUES(updated_at))"
	}
	return bulkInsert(ctx, tx, "tokens",
		[]string{"contract_address_hash", "name", "symbol", "decimals", "token_type", "inserted_at", "updated_at"},
		suffix, rows, im.store.BulkInsertSize())
}

// runTokenTransfers upserts transfers by (transaction_hash, log_index).
func (im *Importer) runTokenTransfers(ctx context.Context, tx *sql.Tx, transfers []*types.TokenTransfer, result *Result) error {
	sorted := append([]*types.TokenTransfer{}, transfers...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].TransactionHash.Bytes(), sorted[j].TransactionHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, tt := range sorted {
		rows = append(rows, []interface{}{
			tt.TransactionHash.Bytes(), tt.LogIndex, tt.BlockNumber, tt.TokenContractAddress.Bytes(),
			tt.From.Bytes(), tt.To.Bytes(), bigVal(tt.Amount), bigVal(tt.TokenID), now, now,
		})
	}
	err := bulkInsert(ctx, tx, "token_transfers",
		[]string{"transaction_hash", "log_index", "block_number", "token_contract_address_hash",
			"from_address_hash", "to_address_hash", "amount", "token_id", "inserted_at", "updated_at"},
		"ON DUPLICATE KEY UPDATE "+
			"block_number = VALUES(block_number), token_contract_address_hash = VALUES(token_contract_address_hash), "+
			"from_address_hash = VALUES(from_address_hash), to_address_hash = VALUES(to_address_hash), "+
			"amount = VALUES(amount), token_id = VALUES(token_id), "+
			"updated_at = GREATEST(updated_at, VALUES(updated_at))",
		rows, im.store.BulkInsertSize())
	if err != nil {
		return err
	}
	result.TokenTransfers = sorted
	return nil
}

// runTokenBalances upserts token balances by (address, token, block). On
// conflict the row with the fresher value_fetched_at wins.
func (im *Importer) runTokenBalances(ctx context.Context, tx *sql.Tx, balances []*types.TokenBalance) error {
	sorted := append([]*types.TokenBalance{}, balances...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].AddressHash.Bytes(), sorted[j].AddressHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		ci = bytes.Compare(sorted[i].TokenContractAddress.Bytes(), sorted[j].TokenContractAddress.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return sorted[i].BlockNumber < sorted[j].BlockNumber
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, b := range sorted {
		rows = append(rows, []interface{}{
			b.AddressHash.Bytes(), b.TokenContractAddress.Bytes(), b.BlockNumber,
			bigVal(b.Value), timeVal(b.ValueFetchedAt), now, now,
		})
	}
	return bulkInsert(ctx, tx, "address_token_balances",
		[]string{"address_hash", "token_contract_address_hash", "block_number",
			"value", "value_fetched_at", "inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE
		   value = IF(VALUES(value_fetched_at) IS NOT NULL AND (value_fetched_at IS NULL OR VALUES(value_fetched_at) > value_fetched_at),
		             VALUES(value), value),
		   value_fetched_at = IF(VALUES(value_fetched_at) IS NOT NULL AND (value_fetched_at IS NULL OR VALUES(value_fetched_at) > value_fetched_at),
		             VALUES(value_fetched_at), value_fetched_at),
		   updated_at = GREATEST(updated_at, VALUES(updated_at))`,
		rows, im.store.BulkInsertSize())
}

// runCurrentTokenBalances maintains the per-(address, token) projection;
// the row with the highest block number wins.
func (im *Importer) runCurrentTokenBalances(ctx context.Context, tx *sql.Tx, balances []*types.CurrentTokenBalance) error {
	sorted := append([]*types.CurrentTokenBalance{}, balances...)
	sort.Slice(sorted, func(i, j int) bool {
		ci := bytes.Compare(sorted[i].AddressHash.Bytes(), sorted[j].AddressHash.Bytes())
		if ci != 0 {
			return ci < 0
		}
		return bytes.Compare(sorted[i].TokenContractAddress.Bytes(), sorted[j].TokenContractAddress.Bytes()) < 0
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, b := range sorted {
		rows = append(rows, []interface{}{
			b.AddressHash.Bytes(), b.TokenContractAddress.Bytes(), b.BlockNumber, bigVal(b.Value), now, now,
		})
	}
	return bulkInsert(ctx, tx, "address_current_token_balances",
		[]string{"address_hash", "token_contract_address_hash", "block_number", "value", "inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE
		   value = IF(VALUES(block_number) >= block_number, VALUES(value), value),
		   block_number = IF(VALUES(block_number) >= block_number, VALUES(block_number), block_number),
		   updated_at = GREATEST(updated_at, VALUES(updated_at))`,
		rows, im.store.BulkInsertSize())
}
