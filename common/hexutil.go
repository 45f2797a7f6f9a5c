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

package common

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/pkg/errors"
)

// Hex quantity codecs. JSON-RPC encodes quantities as 0x-prefixed hex with no
// leading zeroes and byte data as 0x-prefixed even-length hex.

var (
	ErrEmptyString   = errors.New("hex string is empty")
	ErrMissingPrefix = errors.New("hex string without 0x prefix")
	ErrOddLength     = errors.New("hex string of odd length")
	ErrEmptyNumber   = errors.New(`hex string "0x"`)
	ErrLeadingZero   = errors.New("hex number with leading zero digits")
	ErrSyntax        = errors.New("invalid hex string")
	ErrUint64Range   = errors.New("hex number does not fit into 64 bits")
	ErrBig256Range   = errors.New("hex number does not fit into 256 bits")
)

// Encode encodes b as a 0x-prefixed hex string.
func Encode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// Decode decodes a 0x-prefixed hex string into bytes.
func Decode(input string) ([]byte, error) {
	raw, err := checkHex(input)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrSyntax
	}
	return b, nil
}

// EncodeUint64 encodes i as a hex quantity.
func EncodeUint64(i uint64) string {
	return "0x" + strconv.FormatUint(i, 16)
}

// DecodeUint64 decodes a hex quantity into a uint64.
func DecodeUint64(input string) (uint64, error) {
	raw, err := checkNumber(input)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return 0, ErrUint64Range
		}
		return 0, ErrSyntax
	}
	return v, nil
}

// EncodeBig encodes bigint as a hex quantity. Negative numbers are not
// supported by the wire format.
func EncodeBig(bigint *big.Int) string {
	if bigint.Sign() == 0 {
		return "0x0"
	}
	return "0x" + bigint.Text(16)
}

// DecodeBig decodes a hex quantity into a big integer of at most 256 bits.
func DecodeBig(input string) (*big.Int, error) {
	raw, err := checkNumber(input)
	if err != nil {
		return nil, err
	}
	if len(raw) > 64 {
		return nil, ErrBig256Range
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, ErrSyntax
	}
	return v, nil
}

func checkHex(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyString
	}
	if len(input) < 2 || input[0] != '0' || (input[1] != 'x' && input[1] != 'X') {
		return "", ErrMissingPrefix
	}
	raw := input[2:]
	if len(raw)%2 != 0 {
		return "", ErrOddLength
	}
	return raw, nil
}

func checkNumber(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyString
	}
	if len(input) < 2 || input[0] != '0' || (input[1] != 'x' && input[1] != 'X') {
		return "", ErrMissingPrefix
	}
	raw := input[2:]
	if raw == "" {
		return "", ErrEmptyNumber
	}
	if len(raw) > 1 && raw[0] == '0' {
		return "", ErrLeadingZero
	}
	return raw, nil
}
