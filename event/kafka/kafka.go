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

package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/hashicorp/go-uuid"
	"github.com/klaytn/chainscope/event"
	"github.com/klaytn/chainscope/log"
)

var logger = log.NewModuleLogger(log.EventBus)

const (
	DefaultReplicas   = 1
	DefaultPartitions = 10
)

// Config carries the Kafka broadcast settings.
type Config struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	Partitions  int32
	Replicas    int16
}

// DefaultConfig returns the broker settings used when the operator
// configures none.
func DefaultConfig() *Config {
	return &Config{
		TopicPrefix: "chainscope",
		GroupID:     "chainscope",
		Partitions:  DefaultPartitions,
		Replicas:    DefaultReplicas,
	}
}

// Publisher mirrors chain events onto Kafka topics, one topic per event
// type under the configured prefix. Delivery is best effort; the importer
// never waits on it.
type Publisher struct {
	cfg      *Config
	producer sarama.AsyncProducer
	admin    sarama.ClusterAdmin
	sub      *event.Subscription
	topics   map[event.ChainEventType]struct{}
	quit     chan struct{}
}

// NewPublisher connects the producer and topic admin.
func NewPublisher(cfg *Config) (*Publisher, error) {
	producerCfg := sarama.NewConfig()
	producerCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producerCfg.Producer.Compression = sarama.CompressionSnappy
	producerCfg.Producer.Flush.Frequency = 500 * time.Millisecond
	id, _ := uuid.GenerateUUID()
	producerCfg.ClientID = fmt.Sprintf("%s-%s", cfg.GroupID, id)

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, producerCfg)
	if err != nil {
		return nil, err
	}

	adminCfg := sarama.NewConfig()
	adminCfg.Version = sarama.MaxVersion
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, adminCfg)
	if err != nil {
		producer.Close()
		return nil, err
	}

	return &Publisher{
		cfg:      cfg,
		producer: producer,
		admin:    admin,
		topics:   map[event.ChainEventType]struct{}{},
		quit:     make(chan struct{}),
	}, nil
}

// Start subscribes to the feed and begins mirroring events.
func (p *Publisher) Start(feed *event.Feed) {
	p.sub = feed.Subscribe(256)
	go p.loop()
	go p.drainErrors()
	logger.Info("kafka publisher started", "brokers", p.cfg.Brokers, "topicPrefix", p.cfg.TopicPrefix)
}

// Stop tears the publisher down.
func (p *Publisher) Stop() {
	close(p.quit)
	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	p.producer.Close()
	p.admin.Close()
}

func (p *Publisher) loop() {
	for {
		select {
		case <-p.quit:
			return
		case ev, ok := <-p.sub.Chan():
			if !ok {
				return
			}
			p.publish(ev)
		}
	}
}

func (p *Publisher) drainErrors() {
	for err := range p.producer.Errors() {
		logger.Warn("kafka publish failed", "topic", err.Msg.Topic, "err", err.Err)
	}
}

func (p *Publisher) publish(ev event.ChainEvent) {
	topic := fmt.Sprintf("%s-%s", p.cfg.TopicPrefix, ev.Type)
	p.ensureTopic(ev.Type, topic)

	data, err := json.Marshal(ev.Payload)
	if err != nil {
		logger.Warn("dropping unmarshalable chain event", "type", ev.Type, "err", err)
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.BroadcastType),
		Value: sarama.ByteEncoder(data),
	}
}

func (p *Publisher) ensureTopic(t event.ChainEventType, topic string) {
	if _, ok := p.topics[t]; ok {
		return
	}
	err := p.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     p.cfg.Partitions,
		ReplicationFactor: p.cfg.Replicas,
	}, false)
	if err != nil && err != sarama.ErrTopicAlreadyExists {
		if terr, ok := err.(*sarama.TopicError); !ok || terr.Err != sarama.ErrTopicAlreadyExists {
			logger.Warn("topic creation failed", "topic", topic, "err", err)
		}
	}
	p.topics[t] = struct{}{}
}
