package ws

import (
	"hash/fnv"
	"sync"
)

const registryShards = 16

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// registry 是按会话 ID 哈希分片的会话表，避免单把全局锁成为热点。
type registry struct {
	shards [registryShards]*registryShard
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *registry) shard(id string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%registryShards]
}

func (r *registry) add(s *Session) {
	sh := r.shard(s.ID)
	sh.mu.Lock()
	sh.sessions[s.ID] = s
	sh.mu.Unlock()
}

func (r *registry) remove(id string) {
	sh := r.shard(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
}

func (r *registry) get(id string) *Session {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.sessions[id]
}

func (r *registry) count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// countForUser 统计某用户当前持有的会话数，用于判断最后一个连接下线。
func (r *registry) countForUser(userID uint) int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			if s.UserID == userID {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}
