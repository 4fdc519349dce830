// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"istio.io/pkg/log"
)

var scope = log.RegisterScope("identity", "workload identity and certificate caching", 0)

// CertCache wraps an upstream Manager with a local LRU of recently
// issued certificates, mirroring the teacher's nodeagent secret cache
// (referenced from pkg/istio-agent/agent.go's cache.SecretManagerClient):
// one cert per identity, refreshed on expiry, so a single proxy can carry
// traffic for every local workload without re-issuing on every handshake.
type CertCache struct {
	upstream Manager
	ttl      time.Duration

	mu    sync.Mutex
	cache *lru.Cache
}

// NewCertCache wraps upstream with an LRU of at most size entries, each
// considered fresh for ttl.
func NewCertCache(upstream Manager, size int, ttl time.Duration) (*CertCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CertCache{upstream: upstream, ttl: ttl, cache: c}, nil
}

type cacheEntry struct {
	cert      *Cert
	fetchedAt time.Time
}

// FetchCertificate implements Manager, serving from cache when fresh.
func (c *CertCache) FetchCertificate(id Identity) (*Cert, error) {
	c.mu.Lock()
	if v, ok := c.cache.Get(id); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.fetchedAt) < c.ttl {
			c.mu.Unlock()
			scope.Debugf("cert cache hit for %s", id)
			return entry.cert, nil
		}
	}
	c.mu.Unlock()

	cert, err := c.upstream.FetchCertificate(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache.Add(id, cacheEntry{cert: cert, fetchedAt: time.Now()})
	c.mu.Unlock()
	scope.Debugf("fetched and cached cert for %s", id)
	return cert, nil
}
