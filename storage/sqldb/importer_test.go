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
	"math/big"
	"testing"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An importer with no open store is enough for paths that must not reach
// the database: empty options and failed validation.
func bareImporter() *Importer {
	return NewImporter(nil, nil, TokensConflictNothing)
}

func TestAllEmptyOptionsSkipsTransaction(t *testing.T) {
	result, err := bareImporter().All(context.Background(), &Options{})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestAllValidationFailureCollectsEveryError(t *testing.T) {
	opts := &Options{
		Blocks: []*types.Block{
			{}, // missing hash
			{Hash: common.HexToHash("0xb1"), Number: 5, Timestamp: time.Unix(1, 0)}, // missing parent
		},
		Transactions: []*types.Transaction{
			{}, // missing hash
		},
	}
	_, err := bareImporter().All(context.Background(), opts)
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok, "expected a ValidationError, got %T", err)
	assert.Len(t, verr.Errors, 3, "all failures are reported at once")
}

func TestStepErrorNamesTheRunner(t *testing.T) {
	err := &StepError{Step: "blocks", Err: assert.AnError}
	assert.Contains(t, err.Error(), "blocks")
	assert.Equal(t, assert.AnError, err.Unwrap())
}

func TestUnionNumbers(t *testing.T) {
	got := unionNumbers([]uint64{5, 3, 5}, []uint64{4, 3, 9})
	assert.Equal(t, []uint64{3, 4, 5, 9}, got)
	assert.Empty(t, unionNumbers(nil, nil))
}

func TestInPlaceholders(t *testing.T) {
	assert.Equal(t, "", inPlaceholders(0))
	assert.Equal(t, "?", inPlaceholders(1))
	assert.Equal(t, "?,?,?", inPlaceholders(3))
}

func TestValueHelpers(t *testing.T) {
	assert.Nil(t, bigVal(nil))
	assert.Equal(t, "1000000000000000000", bigVal(big.NewInt(1000000000000000000)))

	assert.Nil(t, timeVal(nil))
	now := time.Unix(100, 0)
	assert.Equal(t, now, timeVal(&now))

	assert.Nil(t, bytesVal(nil))
	assert.Nil(t, bytesVal([]byte{}))
	assert.Equal(t, []byte{0x1}, bytesVal([]byte{0x1}))

	assert.Nil(t, addrVal(nil))
	addr := common.HexToAddress("0xab")
	assert.Equal(t, addr.Bytes(), addrVal(&addr))

	assert.Nil(t, uintVal(nil))
	v := uint64(7)
	assert.Equal(t, uint64(7), uintVal(&v))
}

func TestOptionsEmpty(t *testing.T) {
	assert.True(t, (&Options{}).empty())
	assert.False(t, (&Options{Blocks: []*types.Block{{}}}).empty())
	assert.False(t, (&Options{TokenBalances: []*types.TokenBalance{{}}}).empty())
}
