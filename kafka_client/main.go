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

// kafka_client tails the chain-event topics an indexer publishes, printing
// a summary per message. Useful for smoke-testing a Kafka deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Shopify/sarama"
	"github.com/klaytn/chainscope/event"
	"github.com/klaytn/chainscope/event/kafka"
)

func main() {
	brokers := flag.String("brokers", "127.0.0.1:9092", "comma-separated kafka broker list")
	groupID := flag.String("groupid", "chainscope-tail", "consumer group id")
	prefix := flag.String("prefix", "chainscope", "chain event topic prefix")
	flag.Parse()

	cfg := kafka.DefaultConfig()
	cfg.Brokers = strings.Split(*brokers, ",")
	cfg.TopicPrefix = *prefix

	consumer, err := kafka.NewConsumer(cfg, *groupID)
	if err != nil {
		log.Fatalln("cannot create consumer:", err)
	}
	defer consumer.Close()

	eventTypes := []event.ChainEventType{
		event.ChainEventBlocks,
		event.ChainEventTransactions,
		event.ChainEventLogs,
		event.ChainEventTokenTransfers,
		event.ChainEventInternalTransactions,
	}
	for _, t := range eventTypes {
		topic := fmt.Sprintf("%s-%s", *prefix, t)
		consumer.AddTopicAndHandler(topic, func(message *sarama.ConsumerMessage) error {
			log.Printf("%s partition=%d offset=%d bytes=%d broadcast=%s",
				message.Topic, message.Partition, message.Offset, len(message.Value), string(message.Key))
			return nil
		})
		log.Println("tailing", topic)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := consumer.Subscribe(ctx); err != nil && err != context.Canceled {
		log.Fatalln("subscribe failed:", err)
	}
}
