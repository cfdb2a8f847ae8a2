package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownInput = errors.New("unknown input")

type UnknownInputError struct {
	Input string
}

func (e *UnknownInputError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownInput, e.Input)
}

func (e *UnknownInputError) Unwrap() error {
	return ErrUnknownInput
}
