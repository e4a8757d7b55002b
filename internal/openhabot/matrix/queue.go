package matrix

import "sync"

// serialQueue runs submitted jobs in order per key, one key's jobs never
// overlapping, with a goroutine per busy key.
type serialQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newSerialQueue() *serialQueue {
	return &serialQueue{pending: make(map[string][]func())}
}

func (q *serialQueue) Submit(key string, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, busy := q.pending[key]
	q.pending[key] = append(jobs, job)
	if !busy {
		q.wg.Add(1)
		go q.drain(key)
	}
}

func (q *serialQueue) drain(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()
		job()
	}
}

// Wait blocks until every submitted job has run.
func (q *serialQueue) Wait() {
	q.wg.Wait()
}
