package errors

import (
	"errors"
	"fmt"
)

// PaymentError is returned when a gateway declines or times out. Interactive
// flows surface it with the attempted amount so the UI can prompt a retry;
// the billing cycle processor recovers it locally via the failure counter.
type PaymentError struct {
	Gateway     string
	Code        string
	Message     string
	AmountCents int64
	Currency    string
	Err         error
}

func (e *PaymentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment failed on %s (%s): %s", e.Gateway, e.Code, e.Message)
	}
	return fmt.Sprintf("payment failed on %s: %s", e.Gateway, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// AsPaymentError unwraps err into a *PaymentError if possible.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
