package gateway

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sessionkit_gateway_requests_total",
		Help: "Total backend requests issued by the gateway (status 0 = transport failure)",
	},
	[]string{"method", "path", "status"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

func recordRequest(method, path string, status int) {
	// Query strings would blow up label cardinality.
	path, _, _ = strings.Cut(path, "?")
	requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
