package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		registrationsTotal,
		renewalsTotal,
		codesIssuedTotal,
		bindingsByState,
	)
}

var (
	registrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_registrations_total",
			Help: "Total number of accounts registered through code redemption.",
		},
	)

	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_renewals_total",
			Help: "Total number of applied grants, labeled by actor.",
		},
		[]string{"actor"}, // 'self', 'admin'
	)

	codesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_codes_issued_total",
			Help: "Total number of redemption codes issued, labeled by kind.",
		},
		[]string{"kind"}, // 'register', 'renew'
	)

	bindingsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitlement_bindings",
			Help: "Current number of account bindings by state.",
		},
		[]string{"state"}, // 'active', 'disabled', 'deleted'
	)
)

func IncRegistrations() {
	registrationsTotal.Inc()
}

func IncRenewals(actor string) {
	renewalsTotal.WithLabelValues(actor).Inc()
}

func IncCodesIssued(kind string) {
	codesIssuedTotal.WithLabelValues(kind).Inc()
}

func SetBindingsByState(counts map[string]int) {
	for _, state := range []string{"active", "disabled", "deleted"} {
		bindingsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}
