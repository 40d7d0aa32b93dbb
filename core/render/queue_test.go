package render

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRenderer struct {
	running atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
}

func (r *countingRenderer) Render(ctx context.Context, req Request) (*Result, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{Data: []byte{byte(len(req.Tracks))}}, nil
}

func TestQueueBoundsConcurrency(t *testing.T) {
	r := &countingRenderer{delay: 20 * time.Millisecond}
	q := NewQueue(r, 2, 16)
	defer q.Stop()

	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func(i int) {
			res, err := q.Submit(context.Background(), Request{Tracks: make([]Track, i)})
			if err == nil && int(res.Data[0]) != i {
				err = errors.New("result delivered to the wrong caller")
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 6; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
	if p := r.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestQueueSubmitCancelled(t *testing.T) {
	q := NewQueue(&countingRenderer{delay: time.Second}, 1, 1)
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Submit(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestQueueStopped(t *testing.T) {
	q := NewQueue(&countingRenderer{}, 1, 0)
	q.Stop()
	if _, err := q.Submit(context.Background(), Request{}); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("err = %v, want ErrQueueStopped", err)
	}
}
