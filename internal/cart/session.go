package cart

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
)

var ErrNoSession = errors.New("no authenticated session")

// Session binds one authenticated principal to one draft. Ending the
// session clears the draft; drafts never carry over to another identity.
type Session struct {
	principal auth.Principal
	cart      *Cart
	onEnd     []func(context.Context, auth.Principal) error
}

func NewSession(p auth.Principal, c *Cart) (*Session, error) {
	if !p.Authenticated() {
		return nil, ErrNoSession
	}
	if c == nil {
		c = New()
	}
	return &Session{principal: p, cart: c}, nil
}

func (s *Session) Principal() auth.Principal { return s.principal }
func (s *Session) Cart() *Cart               { return s.cart }

// OnEnd registers a hook run by End after the draft is cleared.
func (s *Session) OnEnd(fn func(context.Context, auth.Principal) error) {
	s.onEnd = append(s.onEnd, fn)
}

func (s *Session) End(ctx context.Context) error {
	s.cart.Clear()
	var errs []error
	for _, fn := range s.onEnd {
		if err := fn(ctx, s.principal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
