package cham

// announce offers d to the driver of e and reports whether the driver claimed
// it. Each probe takes the probe lock on its own.
func (r *Registry) announce(d *Descriptor, e *driverEntry) bool {
	return r.scan(d, e, r.tryProbe)
}

// offer is announce for callers already holding the probe lock.
func (r *Registry) offer(d *Descriptor, e *driverEntry) bool {
	return r.scan(d, e, r.probe)
}

// scan walks the ids of e. An already claimed descriptor is skipped, as is
// one whose id the driver does not list. A refused probe moves on to the next
// listed id; only a successful bind ends the scan.
func (r *Registry) scan(d *Descriptor, e *driverEntry, try func(*Descriptor, *driverEntry) (bool, bool)) bool {
	if d.Driver() != nil {
		return false
	}
	id := d.ID()
	for _, want := range e.ids {
		if want != id {
			continue
		}
		claimed, stop := try(d, e)
		if claimed || stop {
			return claimed
		}
	}
	return false
}

func (r *Registry) tryProbe(d *Descriptor, e *driverEntry) (claimed, stop bool) {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()
	return r.probe(d, e)
}

// probe runs one probe. stop is set when the descriptor can no longer be
// claimed by this driver. Callers hold the probe lock.
func (r *Registry) probe(d *Descriptor, e *driverEntry) (claimed, stop bool) {
	// Re-checked under the lock: another driver may have won the unit, the
	// controller may be going away, or the driver may have been unregistered.
	if d.Driver() != nil || d.unit.fpga.detached || e.removed {
		return false, true
	}

	if err := e.drv.Probe(d); err != nil {
		d.clear()
		r.logger.Debug("probe refused", "driver", e.drv.Name, "unit", d.String(), "err", err)
		r.observers.ProbeRefused(d, e.drv, err)
		return false, false
	}
	d.bind(e.drv)
	r.logger.Info("unit claimed", "driver", e.drv.Name, "unit", d.String())
	r.observers.UnitClaimed(d, e.drv)
	return true, true
}

// release calls drv's Remove for d and empties the claim slot. Callers hold
// the probe lock.
func (r *Registry) release(d *Descriptor, drv *Driver) {
	if drv.Remove != nil {
		drv.Remove(d)
	}
	d.clear()
	r.logger.Debug("unit released", "driver", drv.Name, "unit", d.String())
	r.observers.UnitReleased(d, drv)
}

// matchFPGA offers every unit of f to the given drivers, legacy space first,
// drivers in registration order. It returns the number of claims made.
// Callers hold the probe lock.
func (r *Registry) matchFPGA(f *FPGA, drivers [len(Spaces)][]*driverEntry) int {
	n := 0
	for _, u := range f.units {
		for _, s := range Spaces {
			d := u.View(s)
			for _, e := range drivers[s] {
				if r.offer(d, e) {
					n++
					break
				}
			}
		}
	}
	return n
}
