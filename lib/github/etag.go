// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "sync"

// maxCachedResponses bounds conditionalCache. The proxy reads one ref
// per scheduled or comment-triggered build, so the bound is rarely
// reached.
const maxCachedResponses = 256

type cachedResponse struct {
	etag string
	body []byte
}

// conditionalCache remembers the ETag and body of GET responses by
// path. A 304 answer to If-None-Match is served from it and costs no
// quota. The oldest path is evicted first.
type conditionalCache struct {
	mu        sync.Mutex
	responses map[string]cachedResponse
	order     []string
}

// etag returns the validator to send for path, if any.
func (cache *conditionalCache) etag(path string) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.responses[path].etag
}

// replay returns the cached body for a 304 on path.
func (cache *conditionalCache) replay(path string) ([]byte, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	response, ok := cache.responses[path]
	return response.body, ok
}

func (cache *conditionalCache) store(path, etag string, body []byte) {
	if etag == "" {
		return
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.responses == nil {
		cache.responses = make(map[string]cachedResponse)
	}
	if _, ok := cache.responses[path]; !ok {
		if len(cache.order) == maxCachedResponses {
			delete(cache.responses, cache.order[0])
			cache.order = cache.order[1:]
		}
		cache.order = append(cache.order, path)
	}
	cache.responses[path] = cachedResponse{etag: etag, body: body}
}
