package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// defaultTopicTTL bounds how long a renamed topic keeps routing by its old title.
const defaultTopicTTL = 5 * time.Minute

// TopicResolver fetches a forum topic's creation message
type TopicResolver interface {
	ResolveTopic(ctx context.Context, chatID, messageID int64) (*models.Message, error)
}

// TopicCache memoizes topic lookups so forum posts do not round-trip to the
// gateway for every message.
type TopicCache struct {
	client *Client
	next   TopicResolver
	ttl    time.Duration
	log    logger.Logger
}

// NewTopicCache wraps next with a cache whose entries live for ttl. A renamed
// topic routes by its previous title until its entry expires.
func NewTopicCache(client *Client, next TopicResolver, ttl time.Duration, log logger.Logger) *TopicCache {
	if ttl <= 0 {
		ttl = defaultTopicTTL
	}

	return &TopicCache{
		client: client,
		next:   next,
		ttl:    ttl,
		log:    log.With(logger.F("component", "topic_cache")),
	}
}

func (c *TopicCache) cacheKey(chatID, messageID int64) string {
	return c.client.Key("topic", strconv.FormatInt(chatID, 10), strconv.FormatInt(messageID, 10))
}

// ResolveTopic serves from cache, falling back to the wrapped resolver.
// Cache failures are logged and bypassed.
func (c *TopicCache) ResolveTopic(ctx context.Context, chatID, messageID int64) (*models.Message, error) {
	topic, err := c.Get(ctx, chatID, messageID)
	if err != nil {
		c.log.Warn("topic cache read failed", logger.Err(err))
	} else if topic != nil {
		return topic, nil
	}

	topic, err = c.next.ResolveTopic(ctx, chatID, messageID)
	if err != nil || topic == nil {
		return topic, err
	}

	if err := c.Set(ctx, chatID, messageID, topic); err != nil {
		c.log.Warn("topic cache write failed", logger.Err(err))
	}
	return topic, nil
}

// Get returns the cached topic, or nil when absent
func (c *TopicCache) Get(ctx context.Context, chatID, messageID int64) (*models.Message, error) {
	data, err := c.client.rdb.Get(ctx, c.cacheKey(chatID, messageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}

	var topic models.Message
	if err := json.Unmarshal(data, &topic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic: %w", err)
	}
	return &topic, nil
}

// Set caches the parts of topic needed for channel matching
func (c *TopicCache) Set(ctx context.Context, chatID, messageID int64, topic *models.Message) error {
	slim := models.Message{
		ID:      topic.ID,
		ChatID:  topic.ChatID,
		Text:    topic.Text,
		Action:  topic.Action,
		ReplyTo: topic.ReplyTo,
	}

	data, err := json.Marshal(slim)
	if err != nil {
		return fmt.Errorf("failed to marshal topic: %w", err)
	}

	if err := c.client.rdb.Set(ctx, c.cacheKey(chatID, messageID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache topic: %w", err)
	}

	c.log.Debug("topic cached",
		logger.F("chat_id", chatID),
		logger.F("topic_id", messageID),
		logger.F("title", topic.TopicTitle()),
	)
	return nil
}
