package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// updateQueue runs updates of one sender in arrival order; different senders run in parallel.
// A sender has at most one draining goroutine, started on demand and gone once its backlog is empty.
type updateQueue struct {
	mu      sync.Mutex
	pending map[int64][]tgbotapi.Update
	handle  func(tgbotapi.Update)
	wg      sync.WaitGroup
}

func newUpdateQueue(handle func(tgbotapi.Update)) *updateQueue {
	return &updateQueue{pending: make(map[int64][]tgbotapi.Update), handle: handle}
}

func (q *updateQueue) Push(update tgbotapi.Update) {
	key := senderID(update)

	q.mu.Lock()
	backlog, draining := q.pending[key]
	q.pending[key] = append(backlog, update)
	if !draining {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !draining {
		go q.drain(key)
	}
}

// Wait blocks until every pushed update has been handled.
func (q *updateQueue) Wait() {
	q.wg.Wait()
}

func (q *updateQueue) drain(key int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		backlog := q.pending[key]
		if len(backlog) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		next := backlog[0]
		q.pending[key] = backlog[1:]
		q.mu.Unlock()

		q.handle(next)
	}
}

// senderID keys an update by the Telegram user behind it. Updates without one share key 0.
func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}
