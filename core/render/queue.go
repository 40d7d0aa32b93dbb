package render

import (
	"context"
	"errors"
	"sync"

	"soundscape/logger"
)

// ErrQueueStopped is returned by Submit after Stop.
var ErrQueueStopped = errors.New("render: queue stopped")

// Renderer is what the queue runs jobs on.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Result, error)
}

// renderTask 表示一个渲染任务
type renderTask struct {
	ctx        context.Context
	req        Request
	resultChan chan<- *taskResult
}

type taskResult struct {
	result *Result
	err    error
}

// Queue runs renders on a fixed set of workers, off any live session.
type Queue struct {
	renderer    Renderer
	taskChan    chan *renderTask
	workerCount int
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewQueue starts workers goroutines with room for backlog waiting jobs.
func NewQueue(renderer Renderer, workers, backlog int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	q := &Queue{
		renderer:    renderer,
		taskChan:    make(chan *renderTask, backlog),
		workerCount: workers,
		stopChan:    make(chan struct{}),
	}

	// 启动工作池
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case task := <-q.taskChan:
			if err := task.ctx.Err(); err != nil {
				task.resultChan <- &taskResult{err: err}
				continue
			}
			logger.Debug("渲染任务开始", logger.Int("worker", id), logger.Int("tracks", len(task.req.Tracks)))
			res, err := q.renderer.Render(task.ctx, task.req)
			task.resultChan <- &taskResult{result: res, err: err}
		case <-q.stopChan:
			return
		}
	}
}

// Submit queues req and waits for its result. Cancelling ctx abandons the
// wait and cancels the render if it has started.
func (q *Queue) Submit(ctx context.Context, req Request) (*Result, error) {
	resultChan := make(chan *taskResult, 1)
	task := &renderTask{ctx: ctx, req: req, resultChan: resultChan}

	select {
	case q.taskChan <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stopChan:
		return nil, ErrQueueStopped
	}

	select {
	case r := <-resultChan:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stopChan:
		return nil, ErrQueueStopped
	}
}

// Stop 停止所有工作协程，等待进行中的渲染结束
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopChan) })
	q.wg.Wait()
}
