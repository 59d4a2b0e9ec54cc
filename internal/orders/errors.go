package orders

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrOutOfStock         = errors.New("saree out of stock")
	ErrAlreadyReserved    = errors.New("saree already reserved")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrDataIntegrity      = errors.New("data integrity anomaly")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleTransition   = errors.New("order status changed concurrently")
	ErrExtensionLimit    = errors.New("reservation extension limit reached")
)
