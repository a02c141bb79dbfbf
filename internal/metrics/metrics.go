package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_scheduled_total",
			Help: "Total emails accepted for scheduled delivery",
		},
	)

	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total emails that exhausted their delivery attempts",
		},
	)

	SendAttemptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_send_attempt_errors_total",
			Help: "Total failed send attempts, including ones that were retried",
		},
	)

	RateLimitDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_rate_limit_deferrals_total",
			Help: "Total dispatch attempts deferred by the hourly cap",
		},
	)

	DuplicateDeliveriesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_duplicate_deliveries_skipped_total",
			Help: "Total released jobs skipped because their record was already terminal",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsScheduled)
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(SendAttemptErrors)
	prometheus.MustRegister(RateLimitDeferrals)
	prometheus.MustRegister(DuplicateDeliveriesSkipped)
}
