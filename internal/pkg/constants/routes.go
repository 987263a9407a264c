package constants

// Static route constants
const (
	WebhookRoute = "/webhook"
	APIRoute     = "/api"
	MetricsRoute = "/metrics"
	HealthRoute  = "/healthz"
)
