// Package queue is a bounded job queue drained by a fixed pool of
// worker goroutines. Jobs carry a serialization key: jobs sharing a
// key never run concurrently, jobs with distinct keys do.
package queue

import "sync"

type Job struct {
	// Key serializes execution: two jobs with the same key are
	// never in flight at the same time.
	Key    string
	Run    func() error
	OnFail func(error)
}

type Queue struct {
	jobs    chan Job
	workers int
	wg      sync.WaitGroup

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func NewQueue(size, workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobs:    make(chan Job, size),
		workers: workers,
		keys:    make(map[string]*sync.Mutex),
	}
}

// Enqueue adds a job without blocking. Returns false when the queue
// is full; the caller decides how to surface the overflow.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Depth reports the current backlog.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

func (q *Queue) Start() {
	for range q.workers {
		q.wg.Add(1)
		go q.runner()
	}
}

// Stop drains the queue: no new jobs are accepted and Stop returns
// once every queued job has run.
func (q *Queue) Stop() {
	close(q.jobs)
	q.wg.Wait()
}

func (q *Queue) runner() {
	defer q.wg.Done()
	for job := range q.jobs {
		mu := q.keyMutex(job.Key)
		mu.Lock()
		err := job.Run()
		mu.Unlock()
		if err != nil && job.OnFail != nil {
			job.OnFail(err)
		}
	}
}

func (q *Queue) keyMutex(key string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	mu, ok := q.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		q.keys[key] = mu
	}
	return mu
}
