package isolate

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
)

// Handle is a reference-counted reference to an engine-side object. The
// pointer value is opaque to the host; the only valid uses are passing
// it back to entry points and releasing it. Clone shares ownership and
// the engine object is destroyed when the last reference is released.
//
// A nil or null Handle is valid everywhere and releases as a no-op.
type Handle struct {
	ptr  uint32
	refs atomic.Int64
}

// Live handles are tracked so Shutdown can destroy leaked objects while
// the engine is still alive. Teardown ordering: handles first, engine
// second.
var (
	liveMu sync.Mutex
	live   = map[*Handle]struct{}{}
)

// WrapHandle takes ownership of an object pointer returned by an entry
// point. A zero pointer yields a null handle.
func WrapHandle(ptr uint32) *Handle {
	h := &Handle{ptr: ptr}
	if ptr != 0 {
		h.refs.Store(1)
		liveMu.Lock()
		live[h] = struct{}{}
		liveMu.Unlock()
	}
	return h
}

// Clone adds a reference and returns h for chaining.
func (h *Handle) Clone() *Handle {
	if h == nil || h.ptr == 0 {
		return h
	}
	for {
		r := h.refs.Load()
		if r <= 0 {
			// Clone after the last release is a bug, but it must not
			// resurrect the destroyed object.
			return h
		}
		if h.refs.CompareAndSwap(r, r+1) {
			return h
		}
	}
}

// Valid reports whether the handle still references a live object.
func (h *Handle) Valid() bool {
	return h != nil && h.ptr != 0 && h.refs.Load() > 0
}

// Arg returns the pointer value for use as a call argument. Using a
// released handle fails instead of handing the engine a stale pointer.
func (h *Handle) Arg() (uint64, error) {
	if h == nil || h.ptr == 0 {
		return 0, nil
	}
	if h.refs.Load() <= 0 {
		return 0, errors.StaleHandle("")
	}
	return uint64(h.ptr), nil
}

// Release drops one reference. The last release destroys the engine-side
// object through the dispatcher. Releasing a null handle, or releasing
// more times than retained, is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || h.ptr == 0 {
		return nil
	}
	for {
		r := h.refs.Load()
		if r <= 0 {
			return nil
		}
		if !h.refs.CompareAndSwap(r, r-1) {
			continue
		}
		if r > 1 {
			return nil
		}
		liveMu.Lock()
		delete(live, h)
		liveMu.Unlock()
		_, err := Call(ctx, engine.EntryDestroyObjectHandle, uint64(h.ptr))
		if err != nil {
			return errors.Wrap(errors.PhaseRelease, errors.KindFatal, err, "object handle destruction failed")
		}
		return nil
	}
}

// releaseLive destroys every still-registered handle through the given
// state and returns how many there were. Called from Shutdown with the
// singleton lock held, before the engine closes.
func releaseLive(ctx context.Context, s *state) int {
	liveMu.Lock()
	leaked := make([]*Handle, 0, len(live))
	for h := range live {
		leaked = append(leaked, h)
	}
	live = map[*Handle]struct{}{}
	liveMu.Unlock()

	for _, h := range leaked {
		h.refs.Store(0)
		if _, err := s.call(ctx, engine.EntryDestroyObjectHandle, uint64(h.ptr)); err != nil {
			logger().Error("leaked handle destruction failed", zap.Error(err))
		}
	}
	return len(leaked)
}
