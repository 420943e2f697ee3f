package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedTool memoizes successful results of a tool whose output depends
// only on its arguments.
type CachedTool struct {
	Tool
	lru *expirable.LRU[string, any]
}

// Cached wraps tool with an LRU of at most size entries that expire after
// ttl. A non-positive size returns tool unchanged.
func Cached(tool Tool, size int, ttl time.Duration) Tool {
	if size <= 0 {
		return tool
	}
	return &CachedTool{
		Tool: tool,
		lru:  expirable.NewLRU[string, any](size, nil, ttl),
	}
}

// Execute returns the cached result for args or runs the wrapped tool.
// Errors are never cached.
func (c *CachedTool) Execute(ctx context.Context, args []any) (any, error) {
	key, err := json.Marshal(args)
	if err != nil {
		return c.Tool.Execute(ctx, args)
	}
	if v, ok := c.lru.Get(string(key)); ok {
		return v, nil
	}
	v, err := c.Tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	c.lru.Add(string(key), v)
	return v, nil
}

// Len reports the number of cached results.
func (c *CachedTool) Len() int { return c.lru.Len() }

// Purge drops every cached result.
func (c *CachedTool) Purge() { c.lru.Purge() }
