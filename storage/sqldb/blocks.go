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
	"sort"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
)

// runBlocks ingests the block batch and repairs consensus around it:
// previously-canonical blocks displaced by the incoming ones lose consensus,
// their dependent rows are wiped or re-derived, and their transactions are
// snapshot into transaction_forks and reset to pending.
func (im *Importer) runBlocks(ctx context.Context, tx *sql.Tx, blocks []*types.Block, result *Result) error {
	consensusByNumber := map[uint64]common.Hash{}
	var consensusNumbers []uint64
	var nonconsensusHashes []common.Hash
	incomingHashes := make([]common.Hash, 0, len(blocks))
	var incomingConsensusHashes []common.Hash
	for _, b := range blocks {
		incomingHashes = append(incomingHashes, b.Hash)
		if b.Consensus {
			if _, seen := consensusByNumber[b.Number]; !seen {
				consensusNumbers = append(consensusNumbers, b.Number)
			}
			consensusByNumber[b.Number] = b.Hash
			incomingConsensusHashes = append(incomingConsensusHashes, b.Hash)
		} else {
			nonconsensusHashes = append(nonconsensusHashes, b.Hash)
		}
	}
	sort.Slice(consensusNumbers, func(i, j int) bool { return consensusNumbers[i] < consensusNumbers[j] })

	// 1. Snapshot transactions collated into displaced blocks.
	forks, forkedTxHashes, err := im.deriveTransactionForks(ctx, tx, consensusNumbers, incomingConsensusHashes, nonconsensusHashes)
	if err != nil {
		return err
	}
	if len(forks) > 0 {
		if err := im.runTransactionForks(ctx, tx, forks); err != nil {
			return err
		}
	}

	// 2. Displaced blocks at the incoming consensus numbers lose consensus.
	lostHashes, lostNumbers, err := im.loseConsensus(ctx, tx, consensusNumbers, incomingConsensusHashes)
	if err != nil {
		return err
	}

	// 3. Persisted neighbours whose linkage contradicts the incoming blocks
	// lose consensus too.
	neighbourNumbers, err := im.loseInvalidNeighbourConsensus(ctx, tx, blocks)
	if err != nil {
		return err
	}

	affected := unionNumbers(lostNumbers, neighbourNumbers)

	// 4. Wipe the dependent rows of every block number that lost consensus.
	if err := im.removeNonconsensusData(ctx, tx, affected); err != nil {
		return err
	}

	// 5. Forked transactions become pending again.
	if err := im.forkTransactions(ctx, tx, forkedTxHashes); err != nil {
		return err
	}

	// 6.-8. Token balances at the affected numbers are dropped, the current
	// projection is re-derived from what remains, and holder counts are
	// adjusted by the difference.
	if err := im.repairTokenBalances(ctx, tx, affected); err != nil {
		return err
	}

	// 9. Rewards of displaced and incoming non-consensus blocks are wiped.
	if err := im.deleteRewards(ctx, tx, lostHashes, nonconsensusHashes); err != nil {
		return err
	}

	// 10. Upsert the incoming blocks.
	if err := im.upsertBlocks(ctx, tx, blocks); err != nil {
		return err
	}

	// 11. Relations whose uncle body just arrived are marked fetched.
	if err := im.markUnclesFetched(ctx, tx, incomingHashes); err != nil {
		return err
	}

	// 12. Denormalized trace block numbers follow their re-collated parents.
	if err := im.refreshInternalTransactionBlockNumbers(ctx, tx, consensusNumbers); err != nil {
		return err
	}

	result.Blocks = blocks
	result.ReorgedBlockNumbers = affected
	return nil
}

// deriveTransactionForks finds persisted collated transactions that
// disagree with the incoming consensus blocks, either because a different
// hash now wins their number or because their block arrives demoted.
func (im *Importer) deriveTransactionForks(ctx context.Context, tx *sql.Tx, consensusNumbers []uint64, incomingConsensusHashes, nonconsensusHashes []common.Hash) ([]*types.TransactionFork, []common.Hash, error) {
	if len(consensusNumbers) == 0 && len(nonconsensusHashes) == 0 {
		return nil, nil, nil
	}

	var conds []string
	var args []interface{}
	if len(consensusNumbers) > 0 {
		cond := "(b.number IN (" + inPlaceholders(len(consensusNumbers)) + ")"
		args = append(args, uint64Args(consensusNumbers)...)
		if len(incomingConsensusHashes) > 0 {
			cond += " AND b.hash NOT IN (" + inPlaceholders(len(incomingConsensusHashes)) + ")"
			args = append(args, hashArgs(incomingConsensusHashes)...)
		}
		cond += ")"
		conds = append(conds, cond)
	}
	if len(nonconsensusHashes) > 0 {
		conds = append(conds, "t.block_hash IN ("+inPlaceholders(len(nonconsensusHashes))+")")
		args = append(args, hashArgs(nonconsensusHashes)...)
	}

	query := `SELECT t.hash, t.` + "`index`" + `, t.block_hash
		FROM transactions t JOIN blocks b ON b.hash = t.block_hash
		WHERE t.` + "`index`" + ` IS NOT NULL AND (` + joinConds(conds) + `)
		ORDER BY t.block_hash, t.` + "`index`"
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var forks []*types.TransactionFork
	var hashes []common.Hash
	for rows.Next() {
		var txHash, blockHash []byte
		var index uint32
		if err := rows.Scan(&txHash, &index, &blockHash); err != nil {
			return nil, nil, err
		}
		forks = append(forks, &types.TransactionFork{
			UncleHash: common.BytesToHash(blockHash),
			Index:     index,
			Hash:      common.BytesToHash(txHash),
		})
		hashes = append(hashes, common.BytesToHash(txHash))
	}
	return forks, hashes, rows.Err()
}

// loseConsensus demotes every persisted block that occupies an incoming
// consensus number under a different hash. Rows are locked in hash order.
func (im *Importer) loseConsensus(ctx context.Context, tx *sql.Tx, consensusNumbers []uint64, incomingConsensusHashes []common.Hash) ([]common.Hash, []uint64, error) {
	if len(consensusNumbers) == 0 {
		return nil, nil, nil
	}
	query := "SELECT hash, number FROM blocks WHERE number IN (" + inPlaceholders(len(consensusNumbers)) + ")"
	args := uint64Args(consensusNumbers)
	if len(incomingConsensusHashes) > 0 {
		query += " AND hash NOT IN (" + inPlaceholders(len(incomingConsensusHashes)) + ")"
		args = append(args, hashArgs(incomingConsensusHashes)...)
	}
	query += " ORDER BY hash FOR UPDATE"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	var hashes []common.Hash
	var numbers []uint64
	for rows.Next() {
		var hash []byte
		var number uint64
		if err := rows.Scan(&hash, &number); err != nil {
			rows.Close()
			return nil, nil, err
		}
		hashes = append(hashes, common.BytesToHash(hash))
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	if err := im.demoteBlocks(ctx, tx, hashes); err != nil {
		return nil, nil, err
	}
	return hashes, numbers, nil
}

// loseInvalidNeighbourConsensus demotes persisted consensus blocks adjacent
// to an incoming consensus block whose parent linkage contradicts it.
func (im *Importer) loseInvalidNeighbourConsensus(ctx context.Context, tx *sql.Tx, blocks []*types.Block) ([]uint64, error) {
	neighbourSet := map[uint64]struct{}{}
	for _, b := range blocks {
		if !b.Consensus {
			continue
		}
		if b.Number > 0 {
			neighbourSet[b.Number-1] = struct{}{}
		}
		neighbourSet[b.Number+1] = struct{}{}
	}
	if len(neighbourSet) == 0 {
		return nil, nil
	}
	neighbourNumbers := make([]uint64, 0, len(neighbourSet))
	for n := range neighbourSet {
		neighbourNumbers = append(neighbourNumbers, n)
	}
	sort.Slice(neighbourNumbers, func(i, j int) bool { return neighbourNumbers[i] < neighbourNumbers[j] })

	rows, err := tx.QueryContext(ctx,
		"SELECT hash, number, parent_hash FROM blocks WHERE consensus = 1 AND number IN ("+
			inPlaceholders(len(neighbourNumbers))+") ORDER BY hash FOR UPDATE",
		uint64Args(neighbourNumbers)...)
	if err != nil {
		return nil, err
	}
	type neighbour struct {
		hash       common.Hash
		number     uint64
		parentHash common.Hash
	}
	var neighbours []neighbour
	for rows.Next() {
		var hash, parent []byte
		var number uint64
		if err := rows.Scan(&hash, &number, &parent); err != nil {
			rows.Close()
			return nil, err
		}
		neighbours = append(neighbours, neighbour{common.BytesToHash(hash), number, common.BytesToHash(parent)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var invalidHashes []common.Hash
	var invalidNumbers []uint64
	for _, b := range blocks {
		if !b.Consensus {
			continue
		}
		for _, nb := range neighbours {
			switch {
			case nb.number+1 == b.Number && nb.hash != b.ParentHash:
				// The stored predecessor is not the incoming block's parent.
				invalidHashes = append(invalidHashes, nb.hash)
				invalidNumbers = append(invalidNumbers, nb.number)
			case nb.number == b.Number+1 && nb.parentHash != b.Hash:
				// The stored successor does not descend from the incoming block.
				invalidHashes = append(invalidHashes, nb.hash)
				invalidNumbers = append(invalidNumbers, nb.number)
			}
		}
	}
	if err := im.demoteBlocks(ctx, tx, invalidHashes); err != nil {
		return nil, err
	}
	return invalidNumbers, nil
}

func (im *Importer) demoteBlocks(ctx context.Context, tx *sql.Tx, hashes []common.Hash) error {
	if len(hashes) == 0 {
		return nil
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i].Bytes(), hashes[j].Bytes()) < 0
	})
	args := append([]interface{}{time.Now().UTC()}, hashArgs(hashes)...)
	_, err := tx.ExecContext(ctx,
		"UPDATE blocks SET consensus = 0, updated_at = ? WHERE hash IN ("+inPlaceholders(len(hashes))+")",
		args...)
	return err
}

// removeNonconsensusData deletes the token transfers, logs and internal
// transactions of the demoted block numbers, locking each table's rows in
// its canonical key order first.
func (im *Importer) removeNonconsensusData(ctx context.Context, tx *sql.Tx, blockNumbers []uint64) error {
	if len(blockNumbers) == 0 {
		return nil
	}
	in := "(" + inPlaceholders(len(blockNumbers)) + ")"
	args := uint64Args(blockNumbers)

	tables := []struct {
		lock   string
		delete string
	}{
		{
			"SELECT transaction_hash, log_index FROM token_transfers WHERE block_number IN " + in +
				" ORDER BY transaction_hash, log_index FOR UPDATE",
			"DELETE FROM token_transfers WHERE block_number IN " + in,
		},
		{
			"SELECT transaction_hash, `index` FROM logs WHERE block_number IN " + in +
				" ORDER BY transaction_hash, `index` FOR UPDATE",
			"DELETE FROM logs WHERE block_number IN " + in,
		},
		{
			"SELECT transaction_hash, `index` FROM internal_transactions WHERE block_number IN " + in +
				" ORDER BY transaction_hash, `index` FOR UPDATE",
			"DELETE FROM internal_transactions WHERE block_number IN " + in,
		},
	}
	for _, t := range tables {
		if err := lockRows(ctx, tx, t.lock, args...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, t.delete, args...); err != nil {
			return err
		}
	}
	return nil
}

// forkTransactions resets the given transactions to pending.
func (im *Importer) forkTransactions(ctx context.Context, tx *sql.Tx, txHashes []common.Hash) error {
	if len(txHashes) == 0 {
		return nil
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
	updateArgs := append([]interface{}{time.Now().UTC()}, args...)
	_, err := tx.ExecContext(ctx,
		"UPDATE transactions SET block_hash = NULL, block_number = NULL, `index` = NULL, "+
			"gas_used = NULL, cumulative_gas_used = NULL, status = NULL, error = NULL, "+
			"internal_transactions_indexed_at = NULL, updated_at = ? "+
			"WHERE hash IN ("+inPlaceholders(len(txHashes))+")",
		updateArgs...)
	return err
}

type tokenBalancePair struct {
	addressHash common.Address
	tokenHash   common.Address
	hadValue    bool
}

// repairTokenBalances drops token balances at the affected numbers,
// re-derives the current projection for the touched (address, token) pairs
// from what remains and applies the holder-count deltas to the tokens.
func (im *Importer) repairTokenBalances(ctx context.Context, tx *sql.Tx, blockNumbers []uint64) error {
	if len(blockNumbers) == 0 {
		return nil
	}
	in := "(" + inPlaceholders(len(blockNumbers)) + ")"
	args := uint64Args(blockNumbers)

	// delete_address_token_balances
	if err := lockRows(ctx, tx,
		"SELECT address_hash, token_contract_address_hash, block_number FROM address_token_balances "+
			"WHERE block_number IN "+in+
			" ORDER BY address_hash, token_contract_address_hash, block_number FOR UPDATE",
		args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM address_token_balances WHERE block_number IN "+in, args...); err != nil {
		return err
	}

	// delete_address_current_token_balances, capturing what went.
	rows, err := tx.QueryContext(ctx,
		"SELECT address_hash, token_contract_address_hash, value FROM address_current_token_balances "+
			"WHERE block_number IN "+in+
			" ORDER BY address_hash, token_contract_address_hash FOR UPDATE",
		args...)
	if err != nil {
		return err
	}
	var deleted []tokenBalancePair
	for rows.Next() {
		var addr, token []byte
		var value sql.NullString
		if err := rows.Scan(&addr, &token, &value); err != nil {
			rows.Close()
			return err
		}
		deleted = append(deleted, tokenBalancePair{
			addressHash: common.BytesToAddress(addr),
			tokenHash:   common.BytesToAddress(token),
			hadValue:    value.Valid && value.String != "0",
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if _, err := tx.ExecContext(ctx, "DELETE FROM address_current_token_balances WHERE block_number IN "+in, args...); err != nil {
		return err
	}
	if len(deleted) == 0 {
		return nil
	}

	// derive_address_current_token_balances from the surviving rows.
	pairCond := make([]byte, 0, len(deleted)*6)
	pairArgs := make([]interface{}, 0, len(deleted)*2)
	for i, p := range deleted {
		if i > 0 {
			pairCond = append(pairCond, ',')
		}
		pairCond = append(pairCond, "(?,?)"...)
		pairArgs = append(pairArgs, p.addressHash.Bytes(), p.tokenHash.Bytes())
	}
	derivedRows, err := tx.QueryContext(ctx,
		`SELECT tb.address_hash, tb.token_contract_address_hash, tb.block_number, tb.value
		   FROM address_token_balances tb
		   JOIN (SELECT address_hash, token_contract_address_hash, MAX(block_number) AS block_number
		           FROM address_token_balances
		          WHERE (address_hash, token_contract_address_hash) IN (`+string(pairCond)+`)
		          GROUP BY address_hash, token_contract_address_hash) latest
		     ON latest.address_hash = tb.address_hash
		    AND latest.token_contract_address_hash = tb.token_contract_address_hash
		    AND latest.block_number = tb.block_number
		  ORDER BY tb.address_hash, tb.token_contract_address_hash`,
		pairArgs...)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var derivedInsert [][]interface{}
	derivedHasValue := map[tokenBalancePair]bool{}
	for derivedRows.Next() {
		var addr, token []byte
		var blockNumber uint64
		var value sql.NullString
		if err := derivedRows.Scan(&addr, &token, &blockNumber, &value); err != nil {
			derivedRows.Close()
			return err
		}
		var valueArg interface{}
		if value.Valid {
			valueArg = value.String
		}
		derivedInsert = append(derivedInsert, []interface{}{
			addr, token, blockNumber, valueArg, now, now,
		})
		derivedHasValue[tokenBalancePair{
			addressHash: common.BytesToAddress(addr),
			tokenHash:   common.BytesToAddress(token),
		}] = value.Valid && value.String != "0"
	}
	if err := derivedRows.Err(); err != nil {
		derivedRows.Close()
		return err
	}
	derivedRows.Close()

	if err := bulkInsert(ctx, tx, "address_current_token_balances",
		[]string{"address_hash", "token_contract_address_hash", "block_number", "value", "inserted_at", "updated_at"},
		"", derivedInsert, im.store.BulkInsertSize()); err != nil {
		return err
	}

	// blocks_update_token_holder_counts
	deltas := map[common.Address]int64{}
	for _, p := range deleted {
		if p.hadValue {
			deltas[p.tokenHash]--
		}
	}
	for p, hasValue := range derivedHasValue {
		if hasValue {
			deltas[p.tokenHash]++
		}
	}
	var tokens []common.Address
	for token, delta := range deltas {
		if delta != 0 {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i].Bytes(), tokens[j].Bytes()) < 0
	})
	tokenArgs := make([]interface{}, len(tokens))
	for i := range tokens {
		tokenArgs[i] = tokens[i].Bytes()
	}
	if err := lockRows(ctx, tx,
		"SELECT contract_address_hash FROM tokens WHERE contract_address_hash IN ("+
			inPlaceholders(len(tokens))+") ORDER BY contract_address_hash FOR UPDATE",
		tokenArgs...); err != nil {
		return err
	}
	for _, token := range tokens {
		if _, err := tx.ExecContext(ctx,
			"UPDATE tokens SET holder_count = GREATEST(0, holder_count + ?), updated_at = ? WHERE contract_address_hash = ?",
			deltas[token], now, token.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// deleteRewards wipes block rewards of demoted and incoming non-consensus
// blocks.
func (im *Importer) deleteRewards(ctx context.Context, tx *sql.Tx, lostHashes, nonconsensusHashes []common.Hash) error {
	hashes := append(append([]common.Hash{}, lostHashes...), nonconsensusHashes...)
	if len(hashes) == 0 {
		return nil
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i].Bytes(), hashes[j].Bytes()) < 0
	})
	args := hashArgs(hashes)
	in := "(" + inPlaceholders(len(hashes)) + ")"
	if err := lockRows(ctx, tx,
		"SELECT address_hash, address_type, block_hash FROM block_rewards WHERE block_hash IN "+in+
			" ORDER BY address_hash, address_type, block_hash FOR UPDATE",
		args...); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM block_rewards WHERE block_hash IN "+in, args...)
	return err
}

// upsertBlocks writes the incoming blocks keyed by hash. The update is
// conditional: a stored row only changes (and only bumps updated_at) when
// some replicated column actually differs, keeping overlapping realtime and
// catch-up imports idempotent.
func (im *Importer) upsertBlocks(ctx context.Context, tx *sql.Tx, blocks []*types.Block) error {
	sorted := append([]*types.Block{}, blocks...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Hash.Bytes(), sorted[j].Hash.Bytes()) < 0
	})

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(sorted))
	for _, b := range sorted {
		consensus := 0
		if b.Consensus {
			consensus = 1
		}
		rows = append(rows, []interface{}{
			b.Hash.Bytes(), b.Number, b.ParentHash.Bytes(), b.Miner.Bytes(), b.Timestamp,
			bigVal(b.Difficulty), bigVal(b.TotalDifficulty), b.GasUsed, b.GasLimit,
			b.Size, b.Nonce, consensus, now, now,
		})
	}
	// updated_at is assigned first: its change test must read the old
	// column values before they are overwritten.
	return bulkInsert(ctx, tx, "blocks",
		[]string{"hash", "number", "parent_hash", "miner_hash", "timestamp", "difficulty",
			"total_difficulty", "gas_used", "gas_limit", "size", "nonce", "consensus",
			"inserted_at", "updated_at"},
		`ON DUPLICATE KEY UPDATE
		   updated_at = IF(consensus <=> VALUES(consensus) AND number <=> VALUES(number)
		       AND parent_hash <=> VALUES(parent_hash) AND miner_hash <=> VALUES(miner_hash)
		       AND timestamp <=> VALUES(timestamp) AND difficulty <=> VALUES(difficulty)
		       AND total_difficulty <=> VALUES(total_difficulty) AND gas_used <=> VALUES(gas_used)
		       AND gas_limit <=> VALUES(gas_limit) AND size <=> VALUES(size) AND nonce <=> VALUES(nonce),
		     updated_at, GREATEST(updated_at, VALUES(updated_at))),
		   number = VALUES(number), parent_hash = VALUES(parent_hash), miner_hash = VALUES(miner_hash),
		   timestamp = VALUES(timestamp), difficulty = VALUES(difficulty),
		   total_difficulty = VALUES(total_difficulty), gas_used = VALUES(gas_used),
		   gas_limit = VALUES(gas_limit), size = VALUES(size), nonce = VALUES(nonce),
		   consensus = VALUES(consensus)`,
		rows, im.store.BulkInsertSize())
}

// markUnclesFetched stamps second-degree relations whose uncle body arrived
// in this batch.
func (im *Importer) markUnclesFetched(ctx context.Context, tx *sql.Tx, incomingHashes []common.Hash) error {
	if len(incomingHashes) == 0 {
		return nil
	}
	sorted := append([]common.Hash{}, incomingHashes...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0
	})
	args := hashArgs(sorted)
	in := "(" + inPlaceholders(len(sorted)) + ")"
	if err := lockRows(ctx, tx,
		"SELECT nephew_hash, uncle_hash FROM block_second_degree_relations WHERE uncle_hash IN "+in+
			" ORDER BY nephew_hash, uncle_hash FOR UPDATE",
		args...); err != nil {
		return err
	}
	updateArgs := append([]interface{}{time.Now().UTC()}, args...)
	_, err := tx.ExecContext(ctx,
		"UPDATE block_second_degree_relations SET uncle_fetched_at = ? WHERE uncle_hash IN "+in+
			" AND uncle_fetched_at IS NULL",
		updateArgs...)
	return err
}

// refreshInternalTransactionBlockNumbers re-aligns denormalized trace block
// numbers with their re-collated parent transactions.
func (im *Importer) refreshInternalTransactionBlockNumbers(ctx context.Context, tx *sql.Tx, consensusNumbers []uint64) error {
	if len(consensusNumbers) == 0 {
		return nil
	}
	in := "(" + inPlaceholders(len(consensusNumbers)) + ")"
	args := uint64Args(consensusNumbers)
	if err := lockRows(ctx, tx,
		"SELECT it.transaction_hash, it.`index` FROM internal_transactions it "+
			"JOIN transactions t ON t.hash = it.transaction_hash "+
			"WHERE t.block_number IN "+in+
			" ORDER BY it.transaction_hash, it.`index` FOR UPDATE",
		args...); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE internal_transactions it JOIN transactions t ON t.hash = it.transaction_hash "+
			"SET it.block_number = t.block_number WHERE t.block_number IN "+in,
		args...)
	return err
}

func joinConds(conds []string) string {
	out := ""
	for i, c := range conds {
		if i > 0 {
			out += " OR "
		}
		out += c
	}
	return out
}

func unionNumbers(a, b []uint64) []uint64 {
	set := map[uint64]struct{}{}
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		set[n] = struct{}{}
	}
	out := make([]uint64, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
