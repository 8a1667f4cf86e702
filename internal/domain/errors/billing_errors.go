package errors

import "errors"

var (
	// ErrDuplicateSubscription indicates the tenant already holds a non-terminal subscription
	ErrDuplicateSubscription = errors.New("tenant already has an active subscription")

	// ErrTrialAlreadyUsed indicates the tenant has consumed its one lifetime trial
	ErrTrialAlreadyUsed = errors.New("trial already used for tenant")

	// ErrTrialNotAvailable indicates the plan does not offer a trial
	ErrTrialNotAvailable = errors.New("trial not available for plan")

	// ErrSubscriptionNotFound indicates the specified subscription was not found
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPlanNotFound indicates the specified plan was not found
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTenantNotFound indicates the tenant directory has no such tenant
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrAlreadyCanceled indicates the subscription is already canceled
	ErrAlreadyCanceled = errors.New("subscription already canceled")

	// ErrSubscriptionNotActive indicates an operation that requires an active subscription
	ErrSubscriptionNotActive = errors.New("subscription is not active")

	// ErrPeriodEnded indicates a plan change requested at or after period end;
	// the renewal path owns the charge in that window
	ErrPeriodEnded = errors.New("billing period has ended, renewal pending")

	// ErrGatewayUnsupported indicates no adapter is registered for the gateway
	ErrGatewayUnsupported = errors.New("unsupported payment gateway")

	// ErrInvalidSignature indicates a webhook failed authenticity validation
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnknownSubscription indicates a webhook references a subscription this service does not know
	ErrUnknownSubscription = errors.New("webhook references unknown subscription")
)
