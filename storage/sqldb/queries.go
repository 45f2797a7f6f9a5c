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
	"context"

	"github.com/klaytn/chainscope/common"
	"github.com/pkg/errors"
)

// BlockRange is an inclusive block-number span. First > Last when the range
// is meant to be walked downwards.
type BlockRange struct {
	First uint64
	Last  uint64
}

// MaxBlockNumber returns the highest consensus block number, and false when
// the store holds no blocks yet.
func (s *Store) MaxBlockNumber() (uint64, bool, error) {
	var row struct {
		Max   *uint64
		Count int64
	}
	err := s.gdb.Raw(`SELECT MAX(number) AS max, COUNT(*) AS count FROM blocks WHERE consensus = 1`).
		Scan(&row).Error
	if err != nil {
		return 0, false, errors.Wrap(err, "max block number")
	}
	if row.Count == 0 || row.Max == nil {
		return 0, false, nil
	}
	return *row.Max, true, nil
}

// MissingBlockNumberRanges returns the numbers in from..to (descending,
// from >= to) with no consensus block, grouped into descending ranges ready
// for the catch-up sequence.
func (s *Store) MissingBlockNumberRanges(from, to uint64) ([]BlockRange, error) {
	if from < to {
		from, to = to, from
	}

	var bounds struct {
		Min   *uint64
		Max   *uint64
		Count int64
	}
	err := s.gdb.Raw(
		`SELECT MIN(number) AS min, MAX(number) AS max, COUNT(*) AS count
		   FROM blocks WHERE consensus = 1 AND number BETWEEN ? AND ?`, to, from).
		Scan(&bounds).Error
	if err != nil {
		return nil, errors.Wrap(err, "missing range bounds")
	}
	if bounds.Count == 0 {
		return []BlockRange{{First: from, Last: to}}, nil
	}

	var out []BlockRange
	if *bounds.Max < from {
		out = append(out, BlockRange{First: from, Last: *bounds.Max + 1})
	}

	rows, err := s.gdb.Raw(
		`WITH numbered AS (
		    SELECT number, LAG(number) OVER (ORDER BY number) AS prev
		      FROM blocks WHERE consensus = 1 AND number BETWEEN ? AND ?
		 )
		 SELECT number - 1 AS gap_first, prev + 1 AS gap_last
		   FROM numbered
		  WHERE prev IS NOT NULL AND number - prev > 1
		  ORDER BY number DESC`, to, from).Rows()
	if err != nil {
		return nil, errors.Wrap(err, "missing range gaps")
	}
	defer rows.Close()
	for rows.Next() {
		var r BlockRange
		if err := rows.Scan(&r.First, &r.Last); err != nil {
			return nil, errors.Wrap(err, "scan gap")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate gaps")
	}

	if *bounds.Min > to {
		out = append(out, BlockRange{First: *bounds.Min - 1, Last: to})
	}
	return out, nil
}

// UnfetchedBalance names a coin-balance row whose value is still unknown.
type UnfetchedBalance struct {
	AddressHash common.Address
	BlockNumber uint64
}

// StreamUnfetchedBalances pages through address_coin_balances rows with no
// fetched value, feeding each page to sink.
func (s *Store) StreamUnfetchedBalances(ctx context.Context, chunkSize int, sink func([]UnfetchedBalance)) error {
	lastAddr := make([]byte, common.AddressLength)
	lastBlock := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.gdb.Raw(
			`SELECT address_hash, block_number FROM address_coin_balances
			  WHERE value_fetched_at IS NULL AND (address_hash, block_number) > (?, ?)
			  ORDER BY address_hash, block_number LIMIT ?`,
			lastAddr, lastBlock, chunkSize).Rows()
		if err != nil {
			return errors.Wrap(err, "stream unfetched balances")
		}
		var page []UnfetchedBalance
		for rows.Next() {
			var addr []byte
			var entry UnfetchedBalance
			if err := rows.Scan(&addr, &entry.BlockNumber); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan unfetched balance")
			}
			entry.AddressHash = common.BytesToAddress(addr)
			page = append(page, entry)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(page) == 0 {
			return nil
		}
		sink(page)
		lastAddr = page[len(page)-1].AddressHash.Bytes()
		lastBlock = page[len(page)-1].BlockNumber
	}
}

// UnindexedTransaction names a collated transaction whose trace has not been
// indexed yet.
type UnindexedTransaction struct {
	Hash        common.Hash
	BlockNumber uint64
}

// StreamUnindexedTransactions pages through collated transactions with no
// internal-transaction index timestamp, feeding each page to sink.
func (s *Store) StreamUnindexedTransactions(ctx context.Context, chunkSize int, sink func([]UnindexedTransaction)) error {
	lastHash := make([]byte, common.HashLength)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.gdb.Raw(
			`SELECT hash, block_number FROM transactions
			  WHERE block_hash IS NOT NULL AND internal_transactions_indexed_at IS NULL AND hash > ?
			  ORDER BY hash LIMIT ?`,
			lastHash, chunkSize).Rows()
		if err != nil {
			return errors.Wrap(err, "stream unindexed transactions")
		}
		var page []UnindexedTransaction
		for rows.Next() {
			var hash []byte
			var entry UnindexedTransaction
			if err := rows.Scan(&hash, &entry.BlockNumber); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan unindexed transaction")
			}
			entry.Hash = common.BytesToHash(hash)
			page = append(page, entry)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(page) == 0 {
			return nil
		}
		sink(page)
		lastHash = page[len(page)-1].Hash.Bytes()
	}
}

// UnfetchedTokenBalance names a token-balance row whose value is still
// unknown.
type UnfetchedTokenBalance struct {
	AddressHash          common.Address
	TokenContractAddress common.Address
	BlockNumber          uint64
}

// StreamUnfetchedTokenBalances pages through address_token_balances rows
// with no fetched value, feeding each page to sink.
func (s *Store) StreamUnfetchedTokenBalances(ctx context.Context, chunkSize int, sink func([]UnfetchedTokenBalance)) error {
	lastAddr := make([]byte, common.AddressLength)
	lastToken := make([]byte, common.AddressLength)
	lastBlock := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.gdb.Raw(
			`SELECT address_hash, token_contract_address_hash, block_number FROM address_token_balances
			  WHERE value_fetched_at IS NULL AND (address_hash, token_contract_address_hash, block_number) > (?, ?, ?)
			  ORDER BY address_hash, token_contract_address_hash, block_number LIMIT ?`,
			lastAddr, lastToken, lastBlock, chunkSize).Rows()
		if err != nil {
			return errors.Wrap(err, "stream unfetched token balances")
		}
		var page []UnfetchedTokenBalance
		for rows.Next() {
			var addr, token []byte
			var entry UnfetchedTokenBalance
			if err := rows.Scan(&addr, &token, &entry.BlockNumber); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan unfetched token balance")
			}
			entry.AddressHash = common.BytesToAddress(addr)
			entry.TokenContractAddress = common.BytesToAddress(token)
			page = append(page, entry)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(page) == 0 {
			return nil
		}
		sink(page)
		last := page[len(page)-1]
		lastAddr = last.AddressHash.Bytes()
		lastToken = last.TokenContractAddress.Bytes()
		lastBlock = last.BlockNumber
	}
}
