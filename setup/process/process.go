package process

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProcessContext owns the root context for the whole process and tracks
// long-lived components so that shutdown can wait for them to stop.
type ProcessContext struct {
	wg       sync.WaitGroup
	ctx      context.Context
	shutdown context.CancelFunc
}

func NewProcessContext() *ProcessContext {
	ctx, shutdown := context.WithCancel(context.Background())
	return &ProcessContext{
		ctx:      ctx,
		shutdown: shutdown,
	}
}

func (b *ProcessContext) Context() context.Context {
	return b.ctx
}

func (b *ProcessContext) ComponentStarted() {
	b.wg.Add(1)
}

func (b *ProcessContext) ComponentFinished() {
	b.wg.Done()
}

func (b *ProcessContext) ShutdownSentinel() {
	b.shutdown()
}

func (b *ProcessContext) WaitForShutdown() <-chan struct{} {
	return b.ctx.Done()
}

func (b *ProcessContext) WaitForComponentsToFinish() {
	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-b.ctx.Done():
		logrus.Warn("Shutdown context cancelled before all components finished")
	}
}
