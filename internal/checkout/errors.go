package checkout

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindIntentCreation Kind = iota + 1
	KindMalformed
	KindSignatureInvalid
	KindOrderPersistence
	KindDuplicateCallback
	KindAmountMismatch
)

var (
	ErrIntentCreation    = errors.New("payment intent could not be created")
	ErrMalformed         = errors.New("malformed checkout request")
	ErrSignatureInvalid  = errors.New("payment signature verification failed")
	ErrOrderPersistence  = errors.New("payment received, order pending")
	ErrDuplicateCallback = errors.New("payment already processed")
	ErrAmountMismatch    = errors.New("paid amount does not match cart total")
)

func (k Kind) sentinel() error {
	switch k {
	case KindIntentCreation:
		return ErrIntentCreation
	case KindMalformed:
		return ErrMalformed
	case KindSignatureInvalid:
		return ErrSignatureInvalid
	case KindOrderPersistence:
		return ErrOrderPersistence
	case KindDuplicateCallback:
		return ErrDuplicateCallback
	case KindAmountMismatch:
		return ErrAmountMismatch
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries the gateway identifiers needed to reconcile a failed checkout.
// errors.Is matches it against the sentinel for its Kind.
type Error struct {
	Kind             Kind
	GatewayOrderID   string
	GatewayPaymentID string
	Err              error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.GatewayPaymentID != "" {
		fmt.Fprintf(&b, " (payment %s)", e.GatewayPaymentID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
