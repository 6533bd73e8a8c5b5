package cham

// Observer is notified of registry state changes. Methods are called
// synchronously; UnitClaimed, UnitReleased and ProbeRefused run with the
// probe lock held and must not call back into the Registry. FPGAAttached is
// delivered once the controller's units have been offered to the drivers
// registered before it, and may register drivers.
type Observer interface {
	FPGAAttached(f *FPGA)
	FPGADetached(f *FPGA)
	UnitClaimed(d *Descriptor, drv *Driver)
	UnitReleased(d *Descriptor, drv *Driver)
	ProbeRefused(d *Descriptor, drv *Driver, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) FPGAAttached(*FPGA) {}
func (NopObserver) FPGADetached(*FPGA) {}
func (NopObserver) UnitClaimed(*Descriptor, *Driver) {}
func (NopObserver) UnitReleased(*Descriptor, *Driver) {}
func (NopObserver) ProbeRefused(*Descriptor, *Driver, error) {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) FPGAAttached(f *FPGA) {
	for _, ob := range o {
		ob.FPGAAttached(f)
	}
}

func (o Observers) FPGADetached(f *FPGA) {
	for _, ob := range o {
		ob.FPGADetached(f)
	}
}

func (o Observers) UnitClaimed(d *Descriptor, drv *Driver) {
	for _, ob := range o {
		ob.UnitClaimed(d, drv)
	}
}

func (o Observers) UnitReleased(d *Descriptor, drv *Driver) {
	for _, ob := range o {
		ob.UnitReleased(d, drv)
	}
}

func (o Observers) ProbeRefused(d *Descriptor, drv *Driver, err error) {
	for _, ob := range o {
		ob.ProbeRefused(d, drv, err)
	}
}
