package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/agentivy/sentinel/setup/config"
	"github.com/agentivy/sentinel/setup/process"
)

var (
	quotaDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "quota",
			Name:      "dispatched_total",
			Help:      "Total number of tasks dispatched to the scanning service",
		},
		[]string{"kind"},
	)
	quotaTaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "quota",
			Name:      "task_failures_total",
			Help:      "Total number of dispatched tasks that returned an error or panicked",
		},
		[]string{"kind"},
	)
	quotaDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "quota",
			Name:      "deferred_total",
			Help:      "Total number of worker wakeups that found tasks waiting but no budget",
		},
	)
	quotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "quota",
			Name:      "requests_remaining",
			Help:      "Submissions left in the current replenishment window",
		},
	)
)

var registerLimiterMetrics sync.Once

func init() {
	registerLimiterMetrics.Do(func() {
		prometheus.MustRegister(quotaDispatched, quotaTaskFailures, quotaDeferred, quotaRemaining)
	})
}

// Task is one unit of work that consumes a submission slot when dispatched.
type Task func(ctx context.Context) (interface{}, error)

type result struct {
	value interface{}
	err   error
}

type pending struct {
	ctx  context.Context
	kind string
	run  Task
	done chan result
}

// Limiter caps how many tasks leave for the scanning service per
// replenishment window. Tasks are accepted in FIFO order; a dispatched task
// runs on its own goroutine so a slow scan never holds up the queue.
//
// The budget counter is shared between the dispatch worker and the
// replenishment ticker and is only ever touched under mu.
type Limiter struct {
	mu           sync.Mutex
	requestsLeft int
	queue        []*pending

	capacity int
	window   time.Duration
	idlePoll time.Duration

	ctx        context.Context
	dispatched atomic.Int64
}

// NewLimiter starts the dispatch worker and the replenishment ticker. Both
// stop when the process context is cancelled.
func NewLimiter(proc *process.ProcessContext, cfg *config.Quota) *Limiter {
	l := &Limiter{
		requestsLeft: cfg.Capacity,
		capacity:     cfg.Capacity,
		window:       time.Duration(cfg.WindowSeconds) * time.Second,
		idlePoll:     time.Duration(cfg.IdlePollMS) * time.Millisecond,
		ctx:          proc.Context(),
	}
	quotaRemaining.Set(float64(cfg.Capacity))
	proc.ComponentStarted()
	go l.worker(proc)
	proc.ComponentStarted()
	go l.replenish(proc)
	return l
}

// Submit queues fn and blocks until it has been dispatched and finished, the
// caller's context is cancelled, or the process shuts down. The returned
// error is fn's own error; running out of budget is never an error, only
// added latency.
func (l *Limiter) Submit(ctx context.Context, kind string, fn Task) (interface{}, error) {
	p := &pending{
		ctx:  ctx,
		kind: kind,
		run:  fn,
		done: make(chan result, 1),
	}
	l.mu.Lock()
	l.queue = append(l.queue, p)
	l.mu.Unlock()

	select {
	case r := <-p.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	}
}

// Dispatched returns how many tasks have left the limiter since start.
func (l *Limiter) Dispatched() int64 {
	return l.dispatched.Load()
}

// worker pops the head of the queue whenever budget remains and launches it
// on its own goroutine. When the queue is empty or the budget is spent it
// idles for a short fixed interval rather than blocking, keeping the loop
// trivially free of missed wakeups.
func (l *Limiter) worker(proc *process.ProcessContext) {
	defer proc.ComponentFinished()
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		p, ok := l.next()
		if !ok {
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(l.idlePoll):
			}
			continue
		}

		l.dispatched.Inc()
		quotaDispatched.WithLabelValues(p.kind).Inc()
		go deliver(p)
	}
}

// next removes and returns the head of the queue if there is both a task and
// budget for it. Tasks whose caller has already gone away are discarded
// without spending budget.
func (l *Limiter) next() (*pending, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 {
		head := l.queue[0]
		if head.ctx.Err() != nil {
			l.queue = l.queue[1:]
			continue
		}
		if l.requestsLeft <= 0 {
			quotaDeferred.Inc()
			return nil, false
		}
		l.queue = l.queue[1:]
		l.requestsLeft--
		quotaRemaining.Set(float64(l.requestsLeft))
		return head, true
	}
	return nil, false
}

func (l *Limiter) replenish(proc *process.ProcessContext) {
	defer proc.ComponentFinished()
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.requestsLeft = l.capacity
			quotaRemaining.Set(float64(l.requestsLeft))
			l.mu.Unlock()
			logrus.WithField("capacity", l.capacity).Debug("Scan submission budget replenished")
		}
	}
}

// deliver runs one dispatched task and hands its result back to the
// submitter. A panic inside the task is returned as an error to that caller
// only; it never takes down the worker loop.
func deliver(p *pending) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("Recovered panicking scan task")
			quotaTaskFailures.WithLabelValues(p.kind).Inc()
			p.done <- result{err: fmt.Errorf("scan task panicked: %v", r)}
		}
	}()
	v, err := p.run(p.ctx)
	if err != nil {
		quotaTaskFailures.WithLabelValues(p.kind).Inc()
	}
	p.done <- result{value: v, err: err}
}
