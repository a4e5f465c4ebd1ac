package metrics

import (
	"net/http"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the fund's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutual_fund",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result.",
		},
		[]string{"operation", "result"},
	)

	poolBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mutual_fund",
			Subsystem: "pool",
			Name:      "balance",
			Help:      "Fund aggregates in monetary units.",
		},
		[]string{"aggregate"},
	)

	investors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mutual_fund",
			Subsystem: "pool",
			Name:      "investors",
			Help:      "Members with a positive balance.",
		},
	)

	distributionCursor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mutual_fund",
			Subsystem: "distribution",
			Name:      "cursor",
			Help:      "Start index of the in-progress interest distribution pass.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mutual_fund",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	Registry.MustRegister(operations, poolBalance, investors, distributionCursor, httpRequests)
}

// Handler exposes the registry over HTTP
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOperation counts a ledger operation; the result label is the error
// kind, or "ok"
func RecordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	operations.WithLabelValues(operation, result).Inc()
}

// RecordFund publishes the fund aggregates and investor count
func RecordFund(f models.Fund, investorCount int) {
	poolBalance.WithLabelValues("vault").Set(float64(f.Vault))
	poolBalance.WithLabelValues("loan_outstanding").Set(float64(f.LoanOutstanding))
	poolBalance.WithLabelValues("interests_received").Set(float64(f.InterestsReceived))
	poolBalance.WithLabelValues("provision").Set(float64(f.Provision))
	investors.Set(float64(investorCount))
	distributionCursor.Set(float64(f.Cursor.StartIndex))
}

// RecordHTTPRequest counts a handled HTTP request
func RecordHTTPRequest(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}
