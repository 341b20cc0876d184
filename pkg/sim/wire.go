// Package sim provides in-process stand-ins for the hardware and the
// wireless stack, so complete chains run inside one process.
package sim

import (
	"sync"
	"sync/atomic"

	fx "github.com/robotalks/chainbus/pkg/framework"
)

// Endpoint is the slave side peripheral driven by a Wire.
type Endpoint interface {
	Select() bool
	Exchange(in byte) byte
	Deselect()
}

// Wire connects a master to a slave endpoint. It implements
// hw.MasterPort for the master and hw.SlavePort for the slave.
// Bytes are delivered synchronously, the master goroutine plays the
// interrupt context of the slave.
type Wire struct {
	endpoint Endpoint
	srq      atomic.Bool
	notify   *fx.Signal

	lock     sync.Mutex
	selected bool
	bytes    uint64
	tap      func(out, in byte)
}

// NewWire creates a Wire, the endpoint is attached later.
func NewWire() *Wire {
	return &Wire{notify: fx.NewSignal()}
}

// Attach connects the slave endpoint.
func (w *Wire) Attach(ep Endpoint) {
	w.lock.Lock()
	w.endpoint = ep
	w.lock.Unlock()
}

// Tap installs a func observing every byte exchanged.
func (w *Wire) Tap(fn func(out, in byte)) {
	w.lock.Lock()
	w.tap = fn
	w.lock.Unlock()
}

// Bytes returns the number of bytes exchanged.
func (w *Wire) Bytes() uint64 {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.bytes
}

// SetServiceRequest implements hw.SlavePort.
func (w *Wire) SetServiceRequest(asserted bool) {
	w.srq.Store(asserted)
	if asserted {
		w.notify.Raise()
	}
}

// ServiceRequested implements hw.MasterPort.
func (w *Wire) ServiceRequested() bool {
	return w.srq.Load()
}

// Notify implements hw.MasterPort.
func (w *Wire) Notify() <-chan struct{} {
	return w.notify.C()
}

// SetSelect implements hw.MasterPort.
func (w *Wire) SetSelect(asserted bool) {
	w.lock.Lock()
	ep, changed := w.endpoint, w.selected != asserted
	w.selected = asserted
	w.lock.Unlock()
	if ep == nil || !changed {
		return
	}
	if asserted {
		ep.Select()
	} else {
		ep.Deselect()
	}
}

// Transfer implements hw.MasterPort. An unselected or detached wire
// shifts in zeros.
func (w *Wire) Transfer(out byte) (in byte) {
	w.lock.Lock()
	ep, selected, tap := w.endpoint, w.selected, w.tap
	w.bytes++
	w.lock.Unlock()
	if ep != nil && selected {
		in = ep.Exchange(out)
	}
	if tap != nil {
		tap(out, in)
	}
	return
}
