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
//
// This file is derived from cmd/utils/flags.go (2019/03/18).
// Modified and improved for the chainscope development.

package utils

import (
	"path/filepath"

	"gopkg.in/urfave/cli.v1"
)

// NewApp creates an app with sane defaults.
func NewApp(gitCommit, usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(app.Name)
	app.Author = ""
	app.Email = ""
	app.Version = "1.0.0"
	if len(gitCommit) >= 8 {
		app.Version += "-" + gitCommit[:8]
	}
	app.Usage = usage
	return app
}

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	LogLevelFlag = cli.StringFlag{
		Name:  "loglevel",
		Usage: "Logging verbosity (debug, info, warn, error)",
		Value: "info",
	}

	// JSON-RPC endpoint
	RPCURLFlag = cli.StringFlag{
		Name:  "rpc.url",
		Usage: "HTTP JSON-RPC endpoint of the chain node",
		Value: "http://127.0.0.1:8545",
	}
	WSURLFlag = cli.StringFlag{
		Name:  "rpc.wsurl",
		Usage: "WebSocket endpoint for newHeads nudges (optional)",
	}
	TraceURLFlag = cli.StringFlag{
		Name:  "rpc.traceurl",
		Usage: "Dedicated endpoint for trace methods (optional)",
	}
	TracerMethodFlag = cli.StringFlag{
		Name:  "rpc.tracemethod",
		Usage: "Trace method driven for internal transactions",
		Value: "debug_traceTransaction",
	}

	// relational store
	DBHostFlag = cli.StringFlag{
		Name:  "db.host",
		Usage: "MySQL host",
		Value: "127.0.0.1",
	}
	DBPortFlag = cli.StringFlag{
		Name:  "db.port",
		Usage: "MySQL port",
		Value: "3306",
	}
	DBUserFlag = cli.StringFlag{
		Name:  "db.user",
		Usage: "MySQL user",
		Value: "chainscope",
	}
	DBPasswordFlag = cli.StringFlag{
		Name:  "db.password",
		Usage: "MySQL password",
	}
	DBNameFlag = cli.StringFlag{
		Name:  "db.name",
		Usage: "MySQL database name",
		Value: "chainscope",
	}
	RedisURLFlag = cli.StringFlag{
		Name:  "db.redisurl",
		Usage: "Redis URL for reorg cache invalidation (optional)",
	}

	// indexer tuning
	BlockIntervalFlag = cli.DurationFlag{
		Name:  "indexer.blockinterval",
		Usage: "Nominal inter-block time",
	}
	BlocksBatchSizeFlag = cli.IntFlag{
		Name:  "indexer.blocksbatchsize",
		Usage: "Blocks fetched per catch-up range",
	}
	BlocksConcurrencyFlag = cli.IntFlag{
		Name:  "indexer.blocksconcurrency",
		Usage: "Concurrent catch-up ranges",
	}
	ReceiptsBatchSizeFlag = cli.IntFlag{
		Name:  "indexer.receiptsbatchsize",
		Usage: "Receipts fetched per RPC batch",
	}
	ReceiptsConcurrencyFlag = cli.IntFlag{
		Name:  "indexer.receiptsconcurrency",
		Usage: "Concurrent receipt batches per range",
	}
	MemoryLimitFlag = cli.Uint64Flag{
		Name:  "indexer.memorylimit",
		Usage: "Soft limit in bytes on aggregate queue memory",
	}

	// kafka broadcast
	KafkaEnabledFlag = cli.BoolFlag{
		Name:  "kafka",
		Usage: "Mirror chain events onto Kafka topics",
	}
	KafkaBrokersFlag = cli.StringSliceFlag{
		Name:  "kafka.brokers",
		Usage: "Kafka broker list",
	}
	KafkaTopicPrefixFlag = cli.StringFlag{
		Name:  "kafka.topicprefix",
		Usage: "Prefix of the chain event topics",
		Value: "chainscope",
	}

	// metrics
	MetricsEnabledFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and reporting",
	}
	PrometheusExporterPortFlag = cli.IntFlag{
		Name:  "metrics.prometheusport",
		Usage: "Prometheus exporter listening port",
		Value: 61001,
	}
)
