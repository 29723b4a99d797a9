package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the slot booking flow.
type BookingMetrics struct {
	lockTotal       *prometheus.CounterVec
	codeTotal       *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	deliveryTotal   *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	confirmLatency  prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		lockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "slot_lock_total",
			Help:      "Slot lock operations by outcome",
		}, []string{"op", "outcome"}),
		codeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "otp_total",
			Help:      "OTP issue/verify operations by outcome",
		}, []string{"op", "outcome"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "transition_total",
			Help:      "Lifecycle transition attempts",
		}, []string{"from", "to", "outcome"}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "code_delivery_total",
			Help:      "Verification code deliveries by channel",
		}, []string{"channel", "status"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "sweep_expired_total",
			Help:      "Drafts expired by the background sweep",
		}),
		confirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "confirm_latency_seconds",
			Help:      "Latency from reserve to confirmed booking",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lockTotal, m.codeTotal, m.transitionTotal, m.deliveryTotal, m.sweepExpired, m.confirmLatency)
	return m
}

func (m *BookingMetrics) ObserveLock(op, outcome string) {
	if m == nil {
		return
	}
	m.lockTotal.WithLabelValues(op, outcome).Inc()
}

func (m *BookingMetrics) ObserveCode(op, outcome string) {
	if m == nil {
		return
	}
	m.codeTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveTransition satisfies bookings.TransitionObserver. An empty from
// marks draft creation.
func (m *BookingMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "NONE"
	}
	m.transitionTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *BookingMetrics) ObserveDelivery(channel string, delivered bool) {
	if m == nil {
		return
	}
	status := "failed"
	if delivered {
		status = "sent"
	}
	m.deliveryTotal.WithLabelValues(channel, status).Inc()
}

func (m *BookingMetrics) ObserveSweep(expired int) {
	if m == nil || expired <= 0 {
		return
	}
	m.sweepExpired.Add(float64(expired))
}

func (m *BookingMetrics) ObserveConfirmLatency(seconds float64) {
	if m == nil {
		return
	}
	m.confirmLatency.Observe(seconds)
}
