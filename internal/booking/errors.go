package booking

import "errors"

var (
	ErrNoTableSelected    = errors.New("select at least one table first")
	ErrNoDrinkSelected    = errors.New("select at least one drink")
	ErrNoMenuSelected     = errors.New("select a menu")
	ErrUnknownItem        = errors.New("unknown drink or menu")
	ErrUnknownBookingType = errors.New("unknown booking type")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrSubmitFailed       = errors.New("booking was not accepted, please retry")
	ErrNoPaymentLink      = errors.New("booking response had no payment link")
	ErrForeignHandoff     = errors.New("handoff belongs to another identity")
)
