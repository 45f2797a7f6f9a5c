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
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/hashicorp/go-uuid"
)

// Consumer reads chain-event topics in a consumer group and dispatches each
// message to the handler registered for its topic.
type Consumer struct {
	group sarama.ConsumerGroup

	mu       sync.Mutex
	handlers map[string]func(*sarama.ConsumerMessage) error
}

// NewConsumer joins the given consumer group.
func NewConsumer(cfg *Config, groupID string) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.MaxVersion
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	id, _ := uuid.GenerateUUID()
	saramaCfg.ClientID = fmt.Sprintf("%s-%s", groupID, id)

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, handlers: map[string]func(*sarama.ConsumerMessage) error{}}, nil
}

// AddTopicAndHandler registers a handler; must be called before Subscribe.
func (c *Consumer) AddTopicAndHandler(topic string, handler func(*sarama.ConsumerMessage) error) {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
}

// Subscribe consumes the registered topics until ctx is done or the group
// errors.
func (c *Consumer) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Close tears down the consumer group.
func (c *Consumer) Close() error { return c.group.Close() }

func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	logger.Info("consumer session started", "member", sess.MemberID())
	return nil
}

func (c *Consumer) Cleanup(sess sarama.ConsumerGroupSession) error {
	logger.Info("consumer session ended", "member", sess.MemberID())
	return nil
}

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c.mu.Lock()
	handler := c.handlers[claim.Topic()]
	c.mu.Unlock()
	for message := range claim.Messages() {
		if handler != nil {
			if err := handler(message); err != nil {
				logger.Warn("message handler failed", "topic", message.Topic, "err", err)
			}
		}
		sess.MarkMessage(message, "")
	}
	return nil
}
