package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/remnashop/remnashop/internal/pkg/cache"
	"github.com/remnashop/remnashop/internal/pkg/database"
)

const (
	webhookProcessedKey  = "webhook:counters:processed"
	webhookDuplicatesKey = "webhook:counters:duplicates"
	webhookRejectedKey   = "webhook:counters:rejected"
)

// AddProcessed increments the pending processed-webhook counter for a provider in Redis
func AddProcessed(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, provider, 1).Err()
}

// AddDuplicate increments the pending duplicate-delivery counter for a provider in Redis
func AddDuplicate(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookDuplicatesKey, provider, 1).Err()
}

// AddRejected increments the pending rejected-delivery counter for a provider in Redis
func AddRejected(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, provider, 1).Err()
}

// FlushAll flushes all webhook counters to the database
func FlushAll() error {
	if err := flushHashToColumn(webhookProcessedKey, "processed"); err != nil {
		return err
	}
	if err := flushHashToColumn(webhookDuplicatesKey, "duplicates"); err != nil {
		return err
	}
	if err := flushHashToColumn(webhookRejectedKey, "rejected"); err != nil {
		return err
	}
	return nil
}

// flushHashToColumn drains a Redis hash atomically and applies batched increments
// to the provider_stats table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		provider string
		inc      int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{provider: k, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].provider < pairs[j].provider })

	// Upsert so a provider's first counter creates its row:
	// INSERT INTO provider_stats (provider, <column>) VALUES (?,?),... ON
	// DUPLICATE KEY UPDATE <column> = <column> + VALUES(<column>)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*2)
	builder.WriteString("INSERT INTO provider_stats (provider, ")
	builder.WriteString(column)
	builder.WriteString(") VALUES ")
	for i := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("(?, ?)")
		args = append(args, pairs[i].provider, pairs[i].inc)
	}
	builder.WriteString(" ON DUPLICATE KEY UPDATE ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + VALUES(")
	builder.WriteString(column)
	builder.WriteString(")")

	db := database.GetDB()
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		return err
	}
	return nil
}
