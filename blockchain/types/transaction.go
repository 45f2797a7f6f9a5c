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

package types

import (
	"math/big"
	"time"

	"github.com/klaytn/chainscope/common"
	"github.com/pkg/errors"
)

// Transaction is a chain transaction. The collation fields (BlockHash,
// BlockNumber, Index and everything derived from the receipt) are nil for a
// pending transaction and must all be set once the transaction is collated.
type Transaction struct {
	Hash     common.Hash
	Nonce    uint64
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
	Input    []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int

	// Collation fields.
	BlockHash         *common.Hash
	BlockNumber       *uint64
	Index             *uint32
	CumulativeGasUsed *uint64
	GasUsed           *uint64
	Status            TxStatus
	Error             *string
	CreatedContractAddress *common.Address
}

// Collated reports whether the transaction has been included in a block.
func (tx *Transaction) Collated() bool {
	return tx.BlockHash != nil
}

// MergeReceipt copies the receipt-derived fields onto the transaction.
func (tx *Transaction) MergeReceipt(r *Receipt) error {
	status, err := r.DeriveStatus(tx.Gas)
	if err != nil {
		return err
	}
	tx.CumulativeGasUsed = &r.CumulativeGasUsed
	tx.GasUsed = &r.GasUsed
	tx.Status = status
	tx.CreatedContractAddress = r.ContractAddress
	if status == TxStatusError {
		reason := r.ErrorReason
		if reason == "" {
			reason = "execution failed"
		}
		tx.Error = &reason
	}
	return nil
}

// ValidateForImport reports whether the transaction can enter the importer.
func (tx *Transaction) ValidateForImport() error {
	if tx.Hash.IsZero() {
		return errors.New("transaction: hash is required")
	}
	if tx.Collated() {
		if tx.BlockNumber == nil || tx.Index == nil {
			return errors.Errorf("transaction %s: collated without block number or index", tx.Hash)
		}
		if tx.Status != TxStatusOk && tx.Status != TxStatusError {
			return errors.Errorf("transaction %s: collated without status", tx.Hash)
		}
		if tx.GasUsed == nil || tx.CumulativeGasUsed == nil {
			return errors.Errorf("transaction %s: collated without gas accounting", tx.Hash)
		}
	} else {
		if tx.BlockNumber != nil || tx.Index != nil || tx.GasUsed != nil ||
			tx.CumulativeGasUsed != nil || tx.Status != TxStatusPending {
			return errors.Errorf("transaction %s: pending with collation fields set", tx.Hash)
		}
	}
	return nil
}

// Receipt is the post-execution summary of a transaction as returned by the
// node. RawStatus is nil for pre-Byzantium responses.
type Receipt struct {
	TransactionHash   common.Hash
	TransactionIndex  uint32
	BlockHash         common.Hash
	BlockNumber       uint64
	CumulativeGasUsed uint64
	GasUsed           uint64
	ContractAddress   *common.Address
	RawStatus         *uint64
	ErrorReason       string
	Logs              []*Log
}

var ErrNoReceiptStatus = errors.New("receipt has neither status nor gas used")

// DeriveStatus resolves the transaction status. Pre-Byzantium receipts carry
// no status field; a transaction that consumed its whole gas budget failed.
func (r *Receipt) DeriveStatus(gasBudget uint64) (TxStatus, error) {
	if r.RawStatus != nil {
		if *r.RawStatus == 0 {
			return TxStatusError, nil
		}
		return TxStatusOk, nil
	}
	if r.GasUsed == 0 && gasBudget == 0 {
		return TxStatusPending, ErrNoReceiptStatus
	}
	if r.GasUsed >= gasBudget {
		return TxStatusError, nil
	}
	return TxStatusOk, nil
}

// Log is an event emitted during transaction execution, keyed by
// (transaction_hash, index).
type Log struct {
	TransactionHash common.Hash
	Index           uint32
	BlockNumber     uint64
	Address         common.Address
	Data            []byte
	Topics          []common.Hash
}

// ValidateForImport reports whether the log can enter the importer.
func (l *Log) ValidateForImport() error {
	if l.TransactionHash.IsZero() {
		return errors.New("log: transaction hash is required")
	}
	if len(l.Topics) > 4 {
		return errors.Errorf("log %s/%d: more than four topics", l.TransactionHash, l.Index)
	}
	return nil
}

// FirstTopic returns the event signature topic, or the zero hash.
func (l *Log) FirstTopic() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// CoinBalance is the native-coin balance of an address at a block, keyed by
// (address_hash, block_number). Value stays nil until fetched.
type CoinBalance struct {
	AddressHash    common.Address
	BlockNumber    uint64
	Value          *big.Int
	ValueFetchedAt *time.Time
}
