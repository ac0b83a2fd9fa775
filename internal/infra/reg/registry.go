package reg

import (
	"fmt"
	"strings"
	"sync"
)

// registry hands out per-key mutexes so that mutations of chat-scoped and
// (chat,user)-scoped state are serialized without a global lock. Unrelated
// chats never contend.
type registry struct {
	guard sync.Mutex
	locks map[string]*sync.Mutex
}

var (
	instance *registry
	once     sync.Once
)

func Get() *registry {
	once.Do(func() {
		instance = &registry{
			locks: map[string]*sync.Mutex{},
		}
	})
	return instance
}

// ChatLock serializes mutations of per-chat state (flood counters,
// settings).
func (r *registry) ChatLock(chatID int64) *sync.Mutex {
	return r.lock(fmt.Sprintf("chat:%d", chatID))
}

// ChatUserLock serializes mutations of per-(chat,user) state (warn
// records, verification entries).
func (r *registry) ChatUserLock(chatID, userID int64) *sync.Mutex {
	return r.lock(fmt.Sprintf("chat:%d:user:%d", chatID, userID))
}

// EnforceLock guards multi-step platform mutations for one target, so a
// kick's ban+unban pair cannot interleave with another enforcement for
// the same user.
func (r *registry) EnforceLock(chatID, userID int64) *sync.Mutex {
	return r.lock(fmt.Sprintf("enforce:%d:%d", chatID, userID))
}

// ForgetChat drops every lock entry scoped to the chat after it is
// removed or migrated away. Later lookups under the new chat id mint
// fresh mutexes.
func (r *registry) ForgetChat(chatID int64) {
	r.guard.Lock()
	defer r.guard.Unlock()
	delete(r.locks, fmt.Sprintf("chat:%d", chatID))
	userPrefix := fmt.Sprintf("chat:%d:user:", chatID)
	enforcePrefix := fmt.Sprintf("enforce:%d:", chatID)
	for key := range r.locks {
		if strings.HasPrefix(key, userPrefix) || strings.HasPrefix(key, enforcePrefix) {
			delete(r.locks, key)
		}
	}
}

func (r *registry) lock(key string) *sync.Mutex {
	r.guard.Lock()
	defer r.guard.Unlock()
	if m, ok := r.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.locks[key] = m
	return m
}
