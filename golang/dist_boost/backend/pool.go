package backend

import "sync"

//Task is a unit of work for a Pool.
type Task interface {
	Run() error
}

//Pool is a fixed set of goroutines draining a task queue.
type Pool struct {
	tasks    chan Task
	wg       sync.WaitGroup
	errMu    sync.Mutex
	firstErr error
}

//NewPool starts threadsNum workers.
func NewPool(threadsNum int) *Pool {
	if threadsNum < 1 {
		threadsNum = 1
	}
	pool := &Pool{tasks: make(chan Task, threadsNum*2)}
	pool.wg.Add(threadsNum)
	for ind := 0; ind < threadsNum; ind++ {
		go pool.work()
	}
	return pool
}

func (pool *Pool) work() {
	defer pool.wg.Done()
	for task := range pool.tasks {
		if pool.failed() {
			continue
		}
		if err := task.Run(); err != nil {
			pool.errMu.Lock()
			if pool.firstErr == nil {
				pool.firstErr = err
			}
			pool.errMu.Unlock()
		}
	}
}

func (pool *Pool) failed() bool {
	pool.errMu.Lock()
	defer pool.errMu.Unlock()
	return pool.firstErr != nil
}

//AddTask queues a task. It blocks while the queue is full.
func (pool *Pool) AddTask(task Task) {
	pool.tasks <- task
}

//Close tells the workers no more tasks are coming.
func (pool *Pool) Close() {
	close(pool.tasks)
}

//WaitAll waits for the queue to drain. Tasks queued after a failure are skipped.
func (pool *Pool) WaitAll() error {
	pool.wg.Wait()
	return pool.firstErr
}
