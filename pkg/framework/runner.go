package framework

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// NamedFunc wraps a func with a name.
func NamedFunc(name string, fn func(context.Context) error) Runnable {
	return NamedRun(name, RunFunc(fn))
}

// Runner runs multiple tasks and collects errors.
type Runner struct {
	Context context.Context
	Tasks   []Runnable

	cancel func()
	errCh  chan error
	exitCh chan struct{}
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner with a specified context.
// Tasks are stopped when the context is canceled or Stop is called.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		Context: ctx,
		cancel:  cancel,
		errCh:   make(chan error, 1),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals stops the tasks on CtrlC and SIGTERM.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

// Add lets TaskAdders contribute tasks.
func (r *Runner) Add(adders ...TaskAdder) *Runner {
	for _, adder := range adders {
		adder.AddTasks(r)
	}
	return r
}

// Go spawns tasks.
func (r *Runner) Go(tasks ...Runnable) *Runner {
	for _, task := range tasks {
		var name string
		if named, ok := task.(Named); ok {
			name = named.Name()
		} else {
			name = strconv.Itoa(len(r.Tasks))
		}
		r.Tasks = append(r.Tasks, task)
		glog.V(4).Infof("start task[%s]", name)
		go func(task Runnable, name string) {
			glog.V(4).Infof("task[%s] started", name)
			err := task.Run(r.Context)
			if err != nil && !IsCanceled(err) {
				glog.Errorf("task[%s] stopped: %v", name, err)
			} else {
				glog.V(4).Infof("task[%s] stopped", name)
			}
			r.errCh <- err
		}(task, name)
	}
	return r
}

// Stop cancels the context shared by all tasks.
func (r *Runner) Stop() {
	r.cancel()
}

// Wait waits until all tasks stop and aggregates errors.
// The first task failure stops the remaining tasks.
func (r *Runner) Wait() error {
	var errs AggregatedError
	for range r.Tasks {
		select {
		case <-r.exitCh:
			return errors.New("forced exit")
		case err := <-r.errCh:
			if err != nil && !IsCanceled(err) {
				errs.Add(err)
				r.cancel()
			}
		}
	}
	r.cancel()
	return errs.Aggregate()
}

// Run spawns the tasks and waits for them.
func (r *Runner) Run(tasks ...Runnable) error {
	return r.Go(tasks...).Wait()
}

// RunWithContextCancel runs a func which doesn't accept a context.
// onCancel is called only when the context is canceled.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return context.Canceled
	case err := <-errCh:
		return err
	}
}

// RunWithContextCloser ensures closer.Close is called either on cancel
// or on exit of fn.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var closed bool
	err := RunWithContextCancel(ctx, func() {
		closer.Close()
		closed = true
	}, fn)
	if !closed {
		closer.Close()
	}
	return err
}
