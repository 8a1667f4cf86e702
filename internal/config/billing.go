package config

import "time"

// BillingConfig carries the billing policy knobs. It is passed explicitly
// into the subscription service and the cycle processor so nothing reads
// billing policy from ambient state.
type BillingConfig struct {
	// TrialDays is the trial length granted by StartTrial.
	TrialDays int `yaml:"trial_days"`
	// MaxPaymentFailures is the failure count at which a subscription is suspended.
	MaxPaymentFailures int `yaml:"max_payment_failures"`
	// RetryDelay is how far next_billing_date is pushed after a failed charge.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// GatewayTimeout bounds every outbound gateway call.
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
	// Workers bounds the billing cycle worker pool.
	Workers int `yaml:"workers"`
	// Schedule is the cron expression for automatic billing cycle runs.
	Schedule string `yaml:"schedule"`
	// BatchLimit caps how many due subscriptions a single run picks up.
	BatchLimit int `yaml:"batch_limit"`
	// WebhookRetrySchedule is the cron expression for the sweep that
	// reprocesses webhook events that never completed.
	WebhookRetrySchedule string `yaml:"webhook_retry_schedule"`
}

func (c *BillingConfig) applyDefaults() {
	if c.TrialDays == 0 {
		c.TrialDays = 14
	}
	if c.MaxPaymentFailures == 0 {
		c.MaxPaymentFailures = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 24 * time.Hour
	}
	if c.GatewayTimeout == 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.Schedule == "" {
		c.Schedule = "0 * * * *"
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 500
	}
	if c.WebhookRetrySchedule == "" {
		c.WebhookRetrySchedule = "@every 5m"
	}
}
