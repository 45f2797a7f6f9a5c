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

package main

import (
	"os"

	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/cmd/utils"
	"github.com/klaytn/chainscope/datasync/indexer"
	"github.com/klaytn/chainscope/event/kafka"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/klaytn/chainscope/storage/sqldb"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

// chainscopeConfig is the TOML-level configuration of the binary.
type chainscopeConfig struct {
	LogLevel string

	RPC     rpc.Config
	Tracer  client.TracerConfig
	DB      sqldb.DBConfig
	Indexer indexer.Config

	KafkaEnabled bool
	Kafka        kafka.Config

	TokensReplaceOnConflict bool

	MetricsEnabled bool
	PrometheusPort int
}

func defaultConfig() *chainscopeConfig {
	return &chainscopeConfig{
		LogLevel:       "info",
		RPC:            rpc.Config{URL: "http://127.0.0.1:8545"},
		Tracer:         client.DefaultTracerConfig(),
		DB:             *sqldb.DefaultDBConfig(),
		Indexer:        *indexer.DefaultConfig(),
		Kafka:          *kafka.DefaultConfig(),
		PrometheusPort: 61001,
	}
}

// loadConfig reads the optional TOML file and applies flag overrides on
// top, flags winning.
func loadConfig(ctx *cli.Context) (*chainscopeConfig, error) {
	cfg := defaultConfig()

	if path := ctx.GlobalString(utils.ConfigFileFlag.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config file")
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "decode config file")
		}
	}

	if ctx.GlobalIsSet(utils.LogLevelFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(utils.LogLevelFlag.Name)
	}
	if ctx.GlobalIsSet(utils.RPCURLFlag.Name) {
		cfg.RPC.URL = ctx.GlobalString(utils.RPCURLFlag.Name)
	}
	if ctx.GlobalIsSet(utils.WSURLFlag.Name) {
		cfg.RPC.WSURL = ctx.GlobalString(utils.WSURLFlag.Name)
	}
	if ctx.GlobalIsSet(utils.TracerMethodFlag.Name) {
		cfg.Tracer.Method = ctx.GlobalString(utils.TracerMethodFlag.Name)
	}
	if ctx.GlobalIsSet(utils.TraceURLFlag.Name) {
		if cfg.RPC.MethodURLs == nil {
			cfg.RPC.MethodURLs = map[string]string{}
		}
		cfg.RPC.MethodURLs[cfg.Tracer.Method] = ctx.GlobalString(utils.TraceURLFlag.Name)
	}

	if ctx.GlobalIsSet(utils.DBHostFlag.Name) {
		cfg.DB.DBHost = ctx.GlobalString(utils.DBHostFlag.Name)
	}
	if ctx.GlobalIsSet(utils.DBPortFlag.Name) {
		cfg.DB.DBPort = ctx.GlobalString(utils.DBPortFlag.Name)
	}
	if ctx.GlobalIsSet(utils.DBUserFlag.Name) {
		cfg.DB.DBUser = ctx.GlobalString(utils.DBUserFlag.Name)
	}
	if ctx.GlobalIsSet(utils.DBPasswordFlag.Name) {
		cfg.DB.DBPassword = ctx.GlobalString(utils.DBPasswordFlag.Name)
	}
	if ctx.GlobalIsSet(utils.DBNameFlag.Name) {
		cfg.DB.DBName = ctx.GlobalString(utils.DBNameFlag.Name)
	}
	if ctx.GlobalIsSet(utils.RedisURLFlag.Name) {
		cfg.DB.RedisURL = ctx.GlobalString(utils.RedisURLFlag.Name)
	}

	if ctx.GlobalIsSet(utils.BlockIntervalFlag.Name) {
		cfg.Indexer.BlockFetcher.BlockInterval = ctx.GlobalDuration(utils.BlockIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(utils.BlocksBatchSizeFlag.Name) {
		cfg.Indexer.BlockFetcher.BlocksBatchSize = ctx.GlobalInt(utils.BlocksBatchSizeFlag.Name)
	}
	if ctx.GlobalIsSet(utils.BlocksConcurrencyFlag.Name) {
		cfg.Indexer.BlockFetcher.BlocksConcurrency = ctx.GlobalInt(utils.BlocksConcurrencyFlag.Name)
	}
	if ctx.GlobalIsSet(utils.ReceiptsBatchSizeFlag.Name) {
		cfg.Indexer.BlockFetcher.ReceiptsBatchSize = ctx.GlobalInt(utils.ReceiptsBatchSizeFlag.Name)
	}
	if ctx.GlobalIsSet(utils.ReceiptsConcurrencyFlag.Name) {
		cfg.Indexer.BlockFetcher.ReceiptsConcurrency = ctx.GlobalInt(utils.ReceiptsConcurrencyFlag.Name)
	}
	if ctx.GlobalIsSet(utils.MemoryLimitFlag.Name) {
		cfg.Indexer.MemoryLimit = ctx.GlobalUint64(utils.MemoryLimitFlag.Name)
	}

	if ctx.GlobalBool(utils.KafkaEnabledFlag.Name) {
		cfg.KafkaEnabled = true
	}
	if ctx.GlobalIsSet(utils.KafkaBrokersFlag.Name) {
		cfg.Kafka.Brokers = ctx.GlobalStringSlice(utils.KafkaBrokersFlag.Name)
	}
	if ctx.GlobalIsSet(utils.KafkaTopicPrefixFlag.Name) {
		cfg.Kafka.TopicPrefix = ctx.GlobalString(utils.KafkaTopicPrefixFlag.Name)
	}

	if ctx.GlobalBool(utils.MetricsEnabledFlag.Name) {
		cfg.MetricsEnabled = true
	}
	if ctx.GlobalIsSet(utils.PrometheusExporterPortFlag.Name) {
		cfg.PrometheusPort = ctx.GlobalInt(utils.PrometheusExporterPortFlag.Name)
	}

	if cfg.KafkaEnabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka broadcast enabled without brokers")
	}
	return cfg, nil
}
