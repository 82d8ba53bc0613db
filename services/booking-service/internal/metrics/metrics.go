package metrics

import "github.com/prometheus/client_golang/prometheus"

// Booking counts booking attempts, payment settlements and status transitions.
type Booking struct {
	bookings    *prometheus.CounterVec
	payments    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Booking {
	m := &Booking{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upachar",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upachar",
			Subsystem: "booking",
			Name:      "payments_total",
			Help:      "Payment operations by provider, step and outcome",
		}, []string{"provider", "step", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upachar",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Appointment status changes",
		}, []string{"from", "to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.payments, m.transitions)
	return m
}

func (m *Booking) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Booking) ObservePayment(provider, step, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(provider, step, outcome).Inc()
}

func (m *Booking) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
