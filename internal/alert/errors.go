package alert

import "errors"

// ErrDelivery wraps any failure of the mail sink. It is logged, never
// propagated to the poll loop.
var ErrDelivery = errors.New("alert: delivery failed")
