// Package metrics exposes registry activity as prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

// Collector implements cham.Observer and keeps its own prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	FPGAsAttached prometheus.Gauge
	Units         prometheus.Gauge
	UnitsClaimed  *prometheus.GaugeVec
	AttachTotal   prometheus.Counter
	DetachTotal   prometheus.Counter
	AttachErrors  *prometheus.CounterVec
	ClaimsTotal   *prometheus.CounterVec
	ReleasesTotal *prometheus.CounterVec
	RefusalsTotal *prometheus.CounterVec
}

var _ cham.Observer = (*Collector)(nil)

// New creates a Collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		FPGAsAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cham_fpgas_attached",
			Help: "Number of chameleon controllers currently attached",
		}),
		Units: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cham_units",
			Help: "Number of units listed by the attached controllers",
		}),
		UnitsClaimed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cham_units_claimed",
			Help: "Number of units currently bound to a driver",
		}, []string{"space", "driver"}),
		AttachTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cham_fpga_attach_total",
			Help: "Number of controllers attached",
		}),
		DetachTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cham_fpga_detach_total",
			Help: "Number of controllers detached",
		}),
		AttachErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cham_fpga_attach_errors_total",
			Help: "Number of failed controller attaches by reason",
		}, []string{"reason"}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cham_unit_claims_total",
			Help: "Number of successful probes",
		}, []string{"space", "driver"}),
		ReleasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cham_unit_releases_total",
			Help: "Number of claims released",
		}, []string{"space", "driver"}),
		RefusalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cham_probe_refusals_total",
			Help: "Number of probes that declined a unit",
		}, []string{"space", "driver"}),
	}
	c.registry.MustRegister(
		c.FPGAsAttached,
		c.Units,
		c.UnitsClaimed,
		c.AttachTotal,
		c.DetachTotal,
		c.AttachErrors,
		c.ClaimsTotal,
		c.ReleasesTotal,
		c.RefusalsTotal,
	)
	return c
}

// Registry returns the prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FPGAAttached(f *cham.FPGA) {
	c.FPGAsAttached.Inc()
	c.Units.Add(float64(f.NumUnits()))
	c.AttachTotal.Inc()
}

func (c *Collector) FPGADetached(f *cham.FPGA) {
	c.FPGAsAttached.Dec()
	c.Units.Sub(float64(f.NumUnits()))
	c.DetachTotal.Inc()
}

func (c *Collector) UnitClaimed(d *cham.Descriptor, drv *cham.Driver) {
	c.UnitsClaimed.WithLabelValues(d.Space().String(), drv.Name).Inc()
	c.ClaimsTotal.WithLabelValues(d.Space().String(), drv.Name).Inc()
}

func (c *Collector) UnitReleased(d *cham.Descriptor, drv *cham.Driver) {
	c.UnitsClaimed.WithLabelValues(d.Space().String(), drv.Name).Dec()
	c.ReleasesTotal.WithLabelValues(d.Space().String(), drv.Name).Inc()
}

func (c *Collector) ProbeRefused(d *cham.Descriptor, drv *cham.Driver, _ error) {
	c.RefusalsTotal.WithLabelValues(d.Space().String(), drv.Name).Inc()
}

// AttachFailed counts an error returned by Registry.Attach.
func (c *Collector) AttachFailed(err error) {
	c.AttachErrors.WithLabelValues(Reason(err)).Inc()
}

// Reason maps an attach error to a short label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, cham.ErrTableInit):
		return "table_init"
	case errors.Is(err, cham.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, cham.ErrNoEndMarker):
		return "no_end_marker"
	case errors.Is(err, cham.ErrDecode):
		return "decode"
	case errors.Is(err, cham.ErrEnable):
		return "enable"
	case errors.Is(err, cham.ErrDeviceAttached):
		return "duplicate"
	default:
		return "other"
	}
}
