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

package indexer

import "github.com/rcrowley/go-metrics"

var (
	catchupMissingGauge = metrics.NewRegisteredGauge("chainscope/indexer/catchup/missing", nil)
	realtimeHeadGauge   = metrics.NewRegisteredGauge("chainscope/indexer/realtime/head", nil)
	importedBlocksMeter = metrics.NewRegisteredMeter("chainscope/indexer/blocks/imported", nil)
	importRangeTimer    = metrics.NewRegisteredTimer("chainscope/indexer/importrange", nil)

	balanceBatchMeter      = metrics.NewRegisteredMeter("chainscope/indexer/balances/fetched", nil)
	internalTxBatchMeter   = metrics.NewRegisteredMeter("chainscope/indexer/internaltxs/fetched", nil)
	tokenBalanceBatchMeter = metrics.NewRegisteredMeter("chainscope/indexer/tokenbalances/fetched", nil)

	memoryShedCounter = metrics.NewRegisteredCounter("chainscope/indexer/memory/shed", nil)
	memoryUsageGauge  = metrics.NewRegisteredGauge("chainscope/indexer/memory/heap", nil)
)
