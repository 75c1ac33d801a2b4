package llmcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

func newEntry(content string, ttl time.Duration) *CachedResponse {
	return NewCachedResponse("", &llmtypes.CompletionResult{
		Content:      content,
		FinishReason: llmtypes.FinishStop,
		Metadata:     map[string]any{"provider": "ollama"},
	}, ttl)
}

func TestLRUCache_PutGet(t *testing.T) {
	c := NewLRUCache(2)
	c.Put("a", newEntry("alpha", time.Minute))

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Expected hit for key a")
	}
	if got.Result.Content != "alpha" {
		t.Errorf("Expected content 'alpha', got %q", got.Result.Content)
	}
	if got.AccessCount != 1 {
		t.Errorf("Expected access count 1, got %d", got.AccessCount)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2)
	c.Put("a", newEntry("alpha", time.Minute))
	c.Put("b", newEntry("beta", time.Minute))

	// Touch a so b becomes the eviction candidate
	c.Get("a")
	c.Put("c", newEntry("gamma", time.Minute))

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Expected c to be present")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Expected 1 eviction, got %d", got)
	}
	if c.Size() != 2 {
		t.Errorf("Expected size 2, got %d", c.Size())
	}
}

func TestLRUCache_ExpiredEntryIsMiss(t *testing.T) {
	c := NewLRUCache(4)
	c.Put("old", newEntry("stale", -time.Second))

	if _, ok := c.Get("old"); ok {
		t.Error("Expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Errorf("Expected expired entry to be removed, size %d", c.Size())
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache(4)
	c.Put("old1", newEntry("x", -time.Second))
	c.Put("old2", newEntry("y", -time.Second))
	c.Put("live", newEntry("z", time.Minute))

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if c.Size() != 1 {
		t.Errorf("Expected size 1, got %d", c.Size())
	}
}

func TestLRUCache_UpdateKeepsSizeAccounting(t *testing.T) {
	c := NewLRUCache(4)
	c.Put("k", newEntry("short", time.Minute))
	c.Put("k", newEntry("a much longer piece of content", time.Minute))

	got, _ := c.Get("k")
	if c.Stats().TotalSizeBytes != got.SizeBytes {
		t.Errorf("Expected total size %d, got %d", got.SizeBytes, c.Stats().TotalSizeBytes)
	}

	c.Delete("k")
	if c.Stats().TotalSizeBytes != 0 {
		t.Errorf("Expected total size 0 after delete, got %d", c.Stats().TotalSizeBytes)
	}
}

func TestLRUCache_Clear(t *testing.T) {
	c := NewLRUCache(4)
	c.Put("a", newEntry("alpha", time.Minute))
	c.Clear()

	if c.Size() != 0 {
		t.Errorf("Expected empty cache, got %d entries", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Expected miss after Clear")
	}
}

func TestCachedResponse_CompletionResultIsCopy(t *testing.T) {
	entry := NewCachedResponse("k", &llmtypes.CompletionResult{
		Content:   "hi",
		ToolCalls: []llmtypes.ToolCall{{ID: "call_1", Name: "t", Arguments: map[string]any{"x": 1}}},
		Metadata:  map[string]any{"provider": "openai"},
	}, time.Minute)

	first := entry.CompletionResult()
	first.Metadata["cached"] = true
	first.ToolCalls[0].Arguments["x"] = 2

	second := entry.CompletionResult()
	if _, ok := second.Metadata["cached"]; ok {
		t.Error("Expected stored metadata to be unaffected by caller changes")
	}
	if second.ToolCalls[0].Arguments["x"] != 1 {
		t.Errorf("Expected stored argument 1, got %v", second.ToolCalls[0].Arguments["x"])
	}
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache(16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", (i+j)%20)
				c.Put(key, newEntry(key, time.Minute))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if c.Size() > 16 {
		t.Errorf("Expected at most 16 entries, got %d", c.Size())
	}
}
