// Package hw defines the narrow hardware seams the bus runs against.
// Real controllers back them with GPIO and the synchronous serial
// peripheral, tests and the simulator back them with in-process wires.
package hw

// SlavePort is the slave side of a point-to-point link. The slave only
// drives the service-request line; bytes are delivered to it by the
// peripheral, one duplex exchange at a time.
type SlavePort interface {
	SetServiceRequest(asserted bool)
}

// MasterPort is the master side of a point-to-point link.
type MasterPort interface {
	// SetSelect drives the select line of the slave.
	SetSelect(asserted bool)
	// ServiceRequested samples the service-request line of the slave.
	ServiceRequested() bool
	// Transfer shifts one byte out and returns the byte shifted in.
	Transfer(out byte) byte
	// Notify is raised when the service-request line is asserted.
	Notify() <-chan struct{}
}
