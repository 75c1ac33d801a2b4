package llmcache

import (
	"encoding/json"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// CachedResponse is a completion result kept for replay
type CachedResponse struct {
	Key         string                    `json:"key"` // SHA256 of the KeyRequest
	Result      llmtypes.CompletionResult `json:"result"`
	CreatedAt   time.Time                 `json:"created_at"`
	ExpiresAt   time.Time                 `json:"expires_at"`
	SizeBytes   int64                     `json:"size_bytes"`
	AccessCount int                       `json:"access_count"`
}

// NewCachedResponse stores a copy of result that expires after ttl
func NewCachedResponse(key string, result *llmtypes.CompletionResult, ttl time.Duration) *CachedResponse {
	now := time.Now()
	cr := &CachedResponse{
		Key:       key,
		Result:    cloneResult(result),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	cr.SizeBytes = cr.EstimateSize()
	return cr
}

// EstimateSize calculates the approximate size of this entry in bytes
func (cr *CachedResponse) EstimateSize() int64 {
	data, err := json.Marshal(cr.Result)
	if err != nil {
		return 1024
	}
	return int64(len(data))
}

// IsExpired checks if this cache entry has expired
func (cr *CachedResponse) IsExpired() bool {
	return time.Now().After(cr.ExpiresAt)
}

// RecordAccess updates access metadata when this entry is accessed
func (cr *CachedResponse) RecordAccess() {
	cr.AccessCount++
}

// CompletionResult returns a copy of the stored result the caller may modify
func (cr *CachedResponse) CompletionResult() *llmtypes.CompletionResult {
	out := cloneResult(&cr.Result)
	return &out
}

func cloneResult(r *llmtypes.CompletionResult) llmtypes.CompletionResult {
	if r == nil {
		return llmtypes.CompletionResult{}
	}
	out := *r
	if r.ToolCalls != nil {
		out.ToolCalls = make([]llmtypes.ToolCall, len(r.ToolCalls))
		for i, tc := range r.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
