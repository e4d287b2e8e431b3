package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------
// 🧹 Cache Invalidation Coordinator
// ---------------------------------------------
// Each mutation names the partitions it affects; invalidation deletes
// every key under the partition prefix. Everything here is best-effort:
// a Redis outage means stale reads until TTL expiry, never a failed
// mutation. Contract: persist → invalidate → broadcast/stream.

const DefaultTTL = 5 * time.Minute

type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Partition key builders. Readers and invalidators must agree on
// these prefixes, so they are the only place keys are spelled out.
// Every prefix ends in a separator so the pattern sweep stays
// id-exact: messages:1:* must never match messages:12:recent.

func MessagesPrefix(conversationID int) string {
	return fmt.Sprintf("messages:%d:", conversationID)
}

func MessagesKey(conversationID int) string {
	return MessagesPrefix(conversationID) + "recent"
}

func ContextPrefix(conversationID int) string {
	return fmt.Sprintf("context:%d:", conversationID)
}

func ContextKey(conversationID int) string {
	return ContextPrefix(conversationID) + "turns"
}

func ConversationListPrefix(userID int) string {
	return fmt.Sprintf("conversations:%d:", userID)
}

func ConversationListKey(userID int) string {
	return ConversationListPrefix(userID) + "all"
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("⚠️ Cache get failed for %s: %v", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *Cache) SetTTL(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("⚠️ Cache set failed for %s: %v", key, err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("⚠️ Cache delete failed: %v", err)
	}
}

// DeleteByPattern removes every key matching the pattern via SCAN so
// we never block Redis with KEYS on a big keyspace.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("⚠️ Cache scan failed for %s: %v", pattern, err)
		return
	}
	c.Delete(ctx, keys...)
}

// InvalidateConversation drops the message-history and context
// partitions for one conversation.
func (c *Cache) InvalidateConversation(ctx context.Context, conversationID int) {
	c.DeleteByPattern(ctx, MessagesPrefix(conversationID)+"*")
	c.DeleteByPattern(ctx, ContextPrefix(conversationID)+"*")
}

// InvalidateConversationList drops the owner's conversation-list
// partition.
func (c *Cache) InvalidateConversationList(ctx context.Context, userID int) {
	c.DeleteByPattern(ctx, ConversationListPrefix(userID)+"*")
}
