package cham

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
)

// IRQPolicy selects where unit interrupts come from.
type IRQPolicy uint8

const (
	// IRQFromBus gives every unit the single interrupt the bus assigned to
	// the controller.
	IRQFromBus IRQPolicy = iota
	// IRQFromTable keeps the interrupt declared by each table entry.
	IRQFromTable
)

// PolicyFromFlag maps the use_bus_irq option to a policy.
func PolicyFromFlag(useBusIRQ bool) IRQPolicy {
	if useBusIRQ {
		return IRQFromBus
	}
	return IRQFromTable
}

func (p IRQPolicy) String() string {
	if p == IRQFromTable {
		return "table"
	}
	return "bus"
}

// Logger is the subset of slog.Logger the registry uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Registry.
type Option func(*Registry)

// WithIRQPolicy sets the interrupt source for units attached afterwards.
func WithIRQPolicy(p IRQPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// Registry holds the attached FPGAs and the registered drivers of both id
// spaces, and binds units to drivers.
//
// mu guards the FPGA and driver lists. probeMu serializes every Probe and
// Remove call together with the claim slot updates around them. When both
// are needed probeMu is taken first; it is never acquired while mu is held.
type Registry struct {
	mu      sync.RWMutex
	fpgas   []*FPGA
	drivers [len(Spaces)][]*driverEntry
	nextSeq int

	probeMu sync.Mutex

	policy    IRQPolicy
	logger    Logger
	observers Observers
}

// NewRegistry returns an empty registry using IRQFromBus unless configured
// otherwise.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		policy: IRQFromBus,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IRQPolicy returns the configured interrupt policy.
func (r *Registry) IRQPolicy() IRQPolicy { return r.policy }

// Register appends drv to the list of its id space and offers it every unit
// already known. It returns the number of units the driver claimed. The
// driver stays registered when it claims nothing.
func (r *Registry) Register(drv *Driver) (int, error) {
	if err := drv.validate(); err != nil {
		return 0, err
	}
	e := newDriverEntry(drv)

	r.mu.Lock()
	if _, i := r.indexDriver(drv); i >= 0 {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrDriverRegistered, drv.Name)
	}
	r.drivers[e.space] = append(r.drivers[e.space], e)
	fpgas := slices.Clone(r.fpgas)
	r.mu.Unlock()

	n := 0
	for _, f := range fpgas {
		for _, u := range f.units {
			if r.announce(u.View(e.space), e) {
				n++
			}
		}
	}
	r.logger.Info("driver registered", "driver", drv.Name, "space", e.space, "ids", len(e.ids), "claimed", n)
	return n, nil
}

// Unregister removes drv and releases every unit it claimed, calling its
// Remove function once per unit.
func (r *Registry) Unregister(drv *Driver) error {
	if drv == nil {
		return fmt.Errorf("%w: nil driver", ErrDriverNotRegistered)
	}

	r.mu.Lock()
	s, i := r.indexDriver(drv)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDriverNotRegistered, drv.Name)
	}
	e := r.drivers[s][i]
	r.drivers[s] = slices.Delete(r.drivers[s], i, i+1)
	fpgas := slices.Clone(r.fpgas)
	r.mu.Unlock()

	r.probeMu.Lock()
	e.removed = true
	n := 0
	for _, f := range fpgas {
		for _, u := range f.units {
			d := u.View(e.space)
			if d.Driver() == drv {
				r.release(d, drv)
				n++
			}
		}
	}
	r.probeMu.Unlock()

	r.logger.Info("driver unregistered", "driver", drv.Name, "space", e.space, "released", n)
	return nil
}

// indexDriver locates drv in either list. The position is -1 when drv is
// not registered. Callers hold mu.
func (r *Registry) indexDriver(drv *Driver) (Space, int) {
	for _, s := range Spaces {
		if i := slices.IndexFunc(r.drivers[s], func(e *driverEntry) bool { return e.drv == drv }); i >= 0 {
			return s, i
		}
	}
	return 0, -1
}

// Drivers returns the drivers of space s in registration order.
func (r *Registry) Drivers(s Space) []*Driver {
	if !s.valid() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Driver, len(r.drivers[s]))
	for i, e := range r.drivers[s] {
		out[i] = e.drv
	}
	return out
}

// FPGAs returns the attached controllers in attach order.
func (r *Registry) FPGAs() []*FPGA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.fpgas)
}

// Detach removes the controller hosted by dev, calls Remove for every
// claimed unit and releases the device.
func (r *Registry) Detach(dev bus.Device) error {
	r.mu.RLock()
	i := r.indexFPGA(dev.Address())
	var f *FPGA
	if i >= 0 {
		f = r.fpgas[i]
	}
	r.mu.RUnlock()
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, dev.Address())
	}
	return r.detach(f)
}

func (r *Registry) detach(f *FPGA) error {
	if !r.unlink(f) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, f.Device.Address())
	}
	r.observers.FPGADetached(f)
	r.logger.Info("fpga detached", "fpga", f.Seq, "device", f.Device.Address().String())
	if err := f.Device.Release(); err != nil {
		return fmt.Errorf("cham: release %s: %w", f.Device.Address(), err)
	}
	return nil
}

// Close detaches every controller. Registered drivers stay registered.
func (r *Registry) Close() error {
	var errs []error
	for _, f := range r.FPGAs() {
		if err := r.detach(f); err != nil && !errors.Is(err, ErrUnknownDevice) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// link appends f to the controller list and returns the drivers it must be
// matched against. Both happen under one lock so a concurrent Register sees
// either the controller or has its driver in the returned set.
func (r *Registry) link(f *FPGA) ([len(Spaces)][]*driverEntry, error) {
	var drivers [len(Spaces)][]*driverEntry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexFPGA(f.Device.Address()) >= 0 {
		return drivers, fmt.Errorf("%w: %s", ErrDeviceAttached, f.Device.Address())
	}
	f.Seq = r.nextSeq
	r.nextSeq++
	r.fpgas = append(r.fpgas, f)
	for s := range r.drivers {
		drivers[s] = slices.Clone(r.drivers[s])
	}
	return drivers, nil
}

// unlink removes f from the list and releases all its claims. It reports
// false when f was not linked.
func (r *Registry) unlink(f *FPGA) bool {
	r.mu.Lock()
	i := slices.Index(r.fpgas, f)
	if i >= 0 {
		r.fpgas = slices.Delete(r.fpgas, i, i+1)
	}
	r.mu.Unlock()
	if i < 0 {
		return false
	}

	r.probeMu.Lock()
	defer r.probeMu.Unlock()
	f.detached = true
	for _, u := range f.units {
		for _, s := range Spaces {
			d := u.View(s)
			if drv := d.Driver(); drv != nil {
				r.release(d, drv)
			}
		}
	}
	return true
}

// indexFPGA returns the list position of the controller at addr. Callers
// hold mu.
func (r *Registry) indexFPGA(addr bus.BusAddress) int {
	return slices.IndexFunc(r.fpgas, func(f *FPGA) bool { return f.Device.Address() == addr })
}
