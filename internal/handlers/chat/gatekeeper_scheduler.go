package handlers

import (
	"fmt"
	"sync"
	"time"
)

// expiryScheduler holds one pending-challenge timer per (chat,user).
// Scheduling over an existing key replaces its timer, which is how a
// repeat join restarts the countdown.
type expiryScheduler struct {
	mutex  sync.Mutex
	timers map[string]*time.Timer
}

func newExpiryScheduler() *expiryScheduler {
	return &expiryScheduler{timers: map[string]*time.Timer{}}
}

func timerKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func (s *expiryScheduler) Schedule(chatID, userID int64, d time.Duration, fn func()) {
	key := timerKey(chatID, userID)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mutex.Lock()
		delete(s.timers, key)
		s.mutex.Unlock()
		fn()
	})
}

func (s *expiryScheduler) Cancel(chatID, userID int64) {
	key := timerKey(chatID, userID)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *expiryScheduler) Shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
