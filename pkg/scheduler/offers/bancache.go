// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package offers

import (
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// banCache remembers which task groups an offer has already vetoed so
// the scheduler does not re-evaluate a known mismatch on every pass.
// Entries age out after expireAfter and the cache evicts the least
// recently used entry once maxSize is reached.
type banCache struct {
	cache       *lru.Cache
	clock       clock.Clock
	expireAfter time.Duration
}

func newBanCache(maxSize int, expireAfter time.Duration, clk clock.Clock) (*banCache, error) {
	c, err := lru.New(maxSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create offer ban cache")
	}
	return &banCache{
		cache:       c,
		clock:       clk,
		expireAfter: expireAfter,
	}, nil
}

func banKey(offerID, groupKey string) string {
	return offerID + "|" + groupKey
}

func (b *banCache) ban(offerID, groupKey string) {
	b.cache.Add(banKey(offerID, groupKey), b.clock.Now())
}

func (b *banCache) isBanned(offerID, groupKey string) bool {
	key := banKey(offerID, groupKey)
	v, ok := b.cache.Get(key)
	if !ok {
		return false
	}
	if b.clock.Now().Sub(v.(time.Time)) >= b.expireAfter {
		b.cache.Remove(key)
		return false
	}
	return true
}

func (b *banCache) size() int {
	return b.cache.Len()
}
