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
// This file is derived from cmd/kcn/main.go (2019/03/18).
// Modified and improved for the chainscope development.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/cmd/utils"
	"github.com/klaytn/chainscope/datasync/indexer"
	"github.com/klaytn/chainscope/event"
	"github.com/klaytn/chainscope/event/kafka"
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/klaytn/chainscope/node"
	"github.com/klaytn/chainscope/storage/sqldb"
	"gopkg.in/urfave/cli.v1"
)

var (
	logger = log.NewModuleLogger(log.CMDChainscope)

	app = utils.NewApp("", "the chainscope indexer command line interface")

	flags = []cli.Flag{
		utils.ConfigFileFlag,
		utils.LogLevelFlag,
		utils.RPCURLFlag,
		utils.WSURLFlag,
		utils.TraceURLFlag,
		utils.TracerMethodFlag,
		utils.DBHostFlag,
		utils.DBPortFlag,
		utils.DBUserFlag,
		utils.DBPasswordFlag,
		utils.DBNameFlag,
		utils.RedisURLFlag,
		utils.BlockIntervalFlag,
		utils.BlocksBatchSizeFlag,
		utils.BlocksConcurrencyFlag,
		utils.ReceiptsBatchSizeFlag,
		utils.ReceiptsConcurrencyFlag,
		utils.MemoryLimitFlag,
		utils.KafkaEnabledFlag,
		utils.KafkaBrokersFlag,
		utils.KafkaTopicPrefixFlag,
		utils.MetricsEnabledFlag,
		utils.PrometheusExporterPortFlag,
	}
)

func init() {
	app.Action = runChainscope
	app.HideVersion = true
	app.Copyright = "Copyright 2019 The klaytn Authors"
	app.Flags = flags

	app.Before = func(ctx *cli.Context) error {
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChainscope(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := log.ChangeGlobalLevel(cfg.LogLevel); err != nil {
		return err
	}

	store, err := sqldb.NewStore(&cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	feed := event.NewFeed()
	policy := sqldb.TokensConflictNothing
	if cfg.TokensReplaceOnConflict {
		policy = sqldb.TokensConflictReplaceAll
	}
	importer := sqldb.NewImporter(store, feed, policy)

	chainClient := client.NewClient(rpc.NewClient(cfg.RPC), cfg.Tracer)
	indexerService := indexer.New(&cfg.Indexer, chainClient, store, importer)

	n := node.New()
	if cfg.KafkaEnabled {
		if err := n.Register("kafka-publisher", &kafkaService{cfg: &cfg.Kafka, feed: feed}); err != nil {
			return err
		}
	}
	if err := n.Register("indexer", indexerService); err != nil {
		return err
	}

	if cfg.MetricsEnabled {
		startMetricsExporter(cfg.PrometheusPort)
	}

	if err := n.Start(); err != nil {
		return err
	}
	logger.Info("chainscope is running", "rpc", cfg.RPC.URL, "db", cfg.DB.DBHost+":"+cfg.DB.DBPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	return n.Stop()
}

// kafkaService adapts the event publisher to the node lifecycle.
type kafkaService struct {
	cfg       *kafka.Config
	feed      *event.Feed
	publisher *kafka.Publisher
}

func (s *kafkaService) Start() error {
	publisher, err := kafka.NewPublisher(s.cfg)
	if err != nil {
		return err
	}
	s.publisher = publisher
	s.publisher.Start(s.feed)
	return nil
}

func (s *kafkaService) Stop() error {
	if s.publisher != nil {
		s.publisher.Stop()
	}
	return nil
}
