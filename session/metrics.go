package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkit_token_refresh_total",
		Help: "Refresh-token exchange outcomes (success, expired, error)",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(refreshTotal)
}

func recordRefresh(outcome string) {
	refreshTotal.WithLabelValues(outcome).Inc()
}
