package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"uiforge/internal/models"
	"uiforge/internal/redis"
)

const cacheTTL = 30 * time.Minute

// artifactCache keeps the session record and its trailing message history in
// redis so the pipeline can build the generation context without a DB round
// trip. All operations are best effort: a nil client or a redis failure
// degrades to the database path.
type artifactCache struct {
	client *redis.Client
}

func newArtifactCache(client *redis.Client) *artifactCache {
	return &artifactCache{client: client}
}

func sessionKey(sessionID int64) string { return fmt.Sprintf("pipeline:session:%d", sessionID) }
func historyKey(sessionID int64) string { return fmt.Sprintf("pipeline:history:%d", sessionID) }

func (c *artifactCache) cacheSession(session *models.Session) {
	if c == nil || c.client == nil || session == nil || session.ID <= 0 {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := c.client.Set(context.Background(), sessionKey(session.ID), data, cacheTTL); err != nil {
		log.Printf("pipeline cache session failed: %v", err)
	}
}

func (c *artifactCache) cacheHistory(sessionID int64, history []*models.Message) {
	if c == nil || c.client == nil || sessionID <= 0 {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("pipeline cache history marshal failed: %v", err)
		return
	}
	if err := c.client.Set(context.Background(), historyKey(sessionID), data, cacheTTL); err != nil {
		log.Printf("pipeline cache history failed: %v", err)
	}
}

// appendHistory extends an already-cached history in place. A cache miss is
// left alone; the next window read repopulates from the database.
func (c *artifactCache) appendHistory(sessionID int64, msg *models.Message) {
	if c == nil || c.client == nil || sessionID <= 0 || msg == nil {
		return
	}
	raw, err := c.client.Get(context.Background(), historyKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("pipeline load history failed: %v", err)
		}
		return
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Printf("pipeline decode history failed: %v", err)
		c.invalidateSession(sessionID)
		return
	}
	history = append(history, msg)
	c.cacheHistory(sessionID, history)
}

func (c *artifactCache) loadHistory(userID, sessionID int64) ([]*models.Message, bool) {
	if c == nil || c.client == nil || sessionID <= 0 {
		return nil, false
	}
	raw, err := c.client.Get(context.Background(), historyKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("pipeline load history failed: %v", err)
		}
		return nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Printf("pipeline decode history failed: %v", err)
		return nil, false
	}
	for _, m := range history {
		if m != nil && m.UserID != userID {
			return nil, false
		}
	}
	return history, true
}

func (c *artifactCache) invalidateSession(sessionID int64) {
	if c == nil || c.client == nil || sessionID <= 0 {
		return
	}
	if err := c.client.Del(context.Background(), sessionKey(sessionID), historyKey(sessionID)); err != nil {
		log.Printf("pipeline invalidate session failed: %v", err)
	}
}
