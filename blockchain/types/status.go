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

import "github.com/pkg/errors"

// TxStatus is the post-execution status of a collated transaction. Pending
// transactions carry TxStatusPending and must not be persisted with a status
// column value.
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusOk
	TxStatusError
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusOk:
		return "ok"
	case TxStatusError:
		return "error"
	default:
		return "pending"
	}
}

// DBValue translates the status for the store boundary. Pending maps to NULL.
func (s TxStatus) DBValue() interface{} {
	switch s {
	case TxStatusOk:
		return int64(1)
	case TxStatusError:
		return int64(0)
	default:
		return nil
	}
}

// ITxType classifies an internal transaction trace entry.
type ITxType int

const (
	ITxTypeCall ITxType = iota
	ITxTypeCreate
	ITxTypeReward
	ITxTypeSuicide
)

var ErrUnknownITxType = errors.New("unknown internal transaction type")

func (t ITxType) String() string {
	switch t {
	case ITxTypeCall:
		return "call"
	case ITxTypeCreate:
		return "create"
	case ITxTypeReward:
		return "reward"
	case ITxTypeSuicide:
		return "suicide"
	default:
		return "unknown"
	}
}

// ITxTypeFromString translates a tracer type tag into the sealed sum.
// Tracers emit a handful of aliases for the same operations.
func ITxTypeFromString(s string) (ITxType, error) {
	switch s {
	case "call", "callcode", "delegatecall", "staticcall", "CALL", "CALLCODE", "DELEGATECALL", "STATICCALL":
		return ITxTypeCall, nil
	case "create", "create2", "CREATE", "CREATE2":
		return ITxTypeCreate, nil
	case "reward", "REWARD":
		return ITxTypeReward, nil
	case "suicide", "selfdestruct", "SELFDESTRUCT":
		return ITxTypeSuicide, nil
	default:
		return 0, errors.Wrap(ErrUnknownITxType, s)
	}
}
