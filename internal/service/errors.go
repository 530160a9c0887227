package service

import "errors"

var (
	ErrNotLoaded  = errors.New("order has not been loaded yet")
	ErrFormClosed = errors.New("refund form is not open")
)
