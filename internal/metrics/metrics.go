// Package metrics exports driver, queue and MAC health as Prometheus
// gauges/counters, grounded on
// _examples/runZeroInc-sockstats/pkg/exporter/exporter.go's pattern of a
// small collector struct registered once and fed by explicit Observe*
// calls from the owning component, rather than a global registry touched
// from everywhere.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goby-acomms/acomms/internal/driver"
)

// Registry bundles every metric this module exports. One Registry is
// shared by all drivers, the MAC and the QueueManager in a process.
type Registry struct {
	reg *prometheus.Registry

	driverStatus    *prometheus.GaugeVec
	driverAttempts  *prometheus.GaugeVec
	signalStrength  *prometheus.GaugeVec
	queueSize       *prometheus.GaugeVec
	queueExpired    *prometheus.CounterVec
	queueAcked      *prometheus.CounterVec
	macSlotsFired   prometheus.Counter
	macInitiations  prometheus.Counter
}

// New constructs a Registry with a fresh prometheus.Registry rather than
// the global default, so multiple daemons in the same test binary never
// collide on metric registration.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		driverStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acomms_driver_status",
			Help: "Current acommserr.Status of each driver (enum value).",
		}, []string{"driver"}),
		driverAttempts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acomms_driver_connection_attempts_total",
			Help: "Cumulative modem connection attempts per driver.",
		}, []string{"driver"}),
		signalStrength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acomms_driver_signal_strength_dbm",
			Help: "Last reported signal strength per driver, when available.",
		}, []string{"driver"}),
		queueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acomms_queue_size",
			Help: "Current number of entries held by each named queue.",
		}, []string{"queue"}),
		queueExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acomms_queue_expired_total",
			Help: "Entries evicted from each queue by TTL expiry.",
		}, []string{"queue"}),
		queueAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acomms_queue_acked_total",
			Help: "Entries acknowledged per queue.",
		}, []string{"queue"}),
		macSlotsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "acomms_mac_slots_fired_total",
			Help: "Total slot_start events fired by the MAC.",
		}),
		macInitiations: factory.NewCounter(prometheus.CounterOpts{
			Name: "acomms_mac_initiate_transmission_total",
			Help: "Total initiate_transmission events fired by the MAC.",
		}),
	}
	return r
}

// Handler returns the HTTP handler internal/config.MetricsConfig's
// ListenAddress is served on.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveDriverReport records one driver.ModemReport snapshot.
func (r *Registry) ObserveDriverReport(name string, rep driver.ModemReport) {
	r.driverStatus.WithLabelValues(name).Set(float64(rep.Status))
	r.driverAttempts.WithLabelValues(name).Set(float64(rep.ConnectionAttempts))
	if rep.SignalStrengthDBm != nil {
		r.signalStrength.WithLabelValues(name).Set(float64(*rep.SignalStrengthDBm))
	}
}

// SetQueueSize records a queue's current depth, called from
// queue.Handlers.OnSizeChange.
func (r *Registry) SetQueueSize(queueName string, size int) {
	r.queueSize.WithLabelValues(queueName).Set(float64(size))
}

// IncQueueExpired records one Expire eviction.
func (r *Registry) IncQueueExpired(queueName string) {
	r.queueExpired.WithLabelValues(queueName).Inc()
}

// IncQueueAcked records one Ack.
func (r *Registry) IncQueueAcked(queueName string) {
	r.queueAcked.WithLabelValues(queueName).Inc()
}

// ObserveSlotStart is wired into mac.EventHandlers.SlotStart.
func (r *Registry) ObserveSlotStart() { r.macSlotsFired.Inc() }

// ObserveInitiateTransmission is wired into mac.EventHandlers.InitiateTransmission.
func (r *Registry) ObserveInitiateTransmission() { r.macInitiations.Inc() }
