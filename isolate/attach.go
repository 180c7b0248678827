package isolate

import (
	"context"

	"go.uber.org/zap"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
)

type tokenKey struct{}

// Attached reports whether ctx already carries an engine attachment.
// A dispatched call running on this context reuses the attachment
// instead of opening a nested one.
func Attached(ctx context.Context) bool {
	_, ok := tokenFrom(ctx)
	return ok
}

func tokenFrom(ctx context.Context) (gridlink.Token, bool) {
	tok, ok := ctx.Value(tokenKey{}).(gridlink.Token)
	return tok, ok
}

// guard pairs an attachment token with ownership of its detach. The
// outermost call on a context attaches and later detaches; nested calls
// borrow the token and leave the attachment alone.
type guard struct {
	ctx   context.Context
	token gridlink.Token
	owned bool
}

func (s *state) attach(ctx context.Context) (guard, error) {
	if tok, ok := tokenFrom(ctx); ok {
		return guard{ctx: ctx, token: tok, owned: false}, nil
	}
	res, err := s.eng.Invoke(ctx, engine.EntryAttachThread, nil)
	if err != nil {
		return guard{}, errors.Wrap(errors.PhaseAttach, errors.KindFatal, err, "thread attachment failed")
	}
	if len(res) == 0 || res[0] == 0 {
		return guard{}, errors.Wrap(errors.PhaseAttach, errors.KindFatal, nil, "engine returned no attachment token")
	}
	token := gridlink.Token(res[0])
	return guard{
		ctx:   context.WithValue(ctx, tokenKey{}, token),
		token: token,
		owned: true,
	}, nil
}

// detach closes an owned attachment and reconciles a detach failure with
// the in-flight call error. The call error always wins; a detach failure
// behind it is logged, never swallowed silently and never masking.
func (s *state) detach(g guard, inFlight error) error {
	if !g.owned {
		return inFlight
	}
	_, err := s.eng.Invoke(g.ctx, engine.EntryDetachThread, []uint64{uint64(g.token)})
	if err == nil {
		return inFlight
	}
	detachErr := errors.Wrap(errors.PhaseAttach, errors.KindFatal, err, "thread detach failed")
	if inFlight != nil {
		logger().Error("detach failed after call error", zap.Error(detachErr), zap.NamedError("call_error", inFlight))
		return inFlight
	}
	return detachErr
}
