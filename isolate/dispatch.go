package isolate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/marshal"
)

// Call dispatches one engine entry point through the boundary protocol:
// attach the calling goroutine if the context is not attached yet, sync
// the host log level, allocate the error signal slot, invoke, then read
// the error signal, fold in any pending host error and release the slot
// and the attachment. Every entry point invocation in the module funnels
// through here; nothing else touches engine.Invoke for protocol entries.
//
// The token and the error-slot pointer are added to args automatically:
// the engine sees (token, args..., errPtr).
func Call(ctx context.Context, entry string, args ...uint64) ([]uint64, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	return s.call(ctx, entry, args...)
}

// CallString dispatches an entry point returning an engine-owned string,
// copies it into host memory and releases the original exactly once.
func CallString(ctx context.Context, entry string, args ...uint64) (string, error) {
	res, err := Call(ctx, entry, args...)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", errors.InvalidData(errors.PhaseMarshal, "entry point returned no string pointer")
	}
	return TakeString(ctx, uint32(res[0]))
}

// TakeString copies an engine-owned string and frees it. The free runs
// even when the copy fails, so the buffer is never stranded.
func TakeString(ctx context.Context, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	mem, err := Memory()
	if err != nil {
		return "", err
	}
	s, readErr := marshal.ReadCString(mem, ptr)
	if _, freeErr := Call(ctx, engine.EntryFreeString, uint64(ptr)); freeErr != nil && readErr == nil {
		return s, errors.Wrap(errors.PhaseRelease, errors.KindFatal, freeErr, "string release failed")
	}
	return s, readErr
}

// Alloc reserves size bytes of host-owned engine memory. Buffers from
// here are released with Free, never with a per-kind release entry.
func Alloc(ctx context.Context, size uint32) (uint32, error) {
	s, err := current()
	if err != nil {
		return 0, err
	}
	return s.rawAlloc(ctx, size)
}

// Free releases a host-owned buffer obtained from Alloc.
func Free(ctx context.Context, ptr uint32) error {
	s, err := current()
	if err != nil {
		return err
	}
	return s.rawFree(ctx, ptr)
}

// Allocator returns a marshal.Alloc bound to this context for building
// call arguments, with every allocation tracked in list.
func Allocator(ctx context.Context, list *marshal.AllocList) marshal.Alloc {
	return list.Bind(func(size uint32) (uint32, error) {
		return Alloc(ctx, size)
	})
}

// ReleaseArgs frees every tracked argument allocation of a finished call.
func ReleaseArgs(ctx context.Context, list *marshal.AllocList) error {
	return list.ReleaseAll(func(ptr uint32) error {
		return Free(ctx, ptr)
	})
}

func (s *state) call(ctx context.Context, entry string, args ...uint64) ([]uint64, error) {
	if !engine.Known(entry) {
		return nil, errors.InvalidInput(errors.PhaseCall, "unknown entry point "+entry)
	}

	g, err := s.attach(ctx)
	if err != nil {
		return nil, err
	}
	ctx = g.ctx

	cs := new(engine.CallState)
	ctx = engine.WithCallState(ctx, cs)

	errSlot, err := s.rawAlloc(ctx, 4)
	if err != nil {
		return nil, s.detach(g, err)
	}

	out, callErr := s.invokeProtocol(ctx, g.token, entry, args, errSlot)

	// A host-side error raised mid-call aborted the engine's work from
	// the outside; it describes the root cause and takes precedence over
	// whatever the callee reported while unwinding. The callee's report
	// stays in the cause chain so neither message is lost.
	if herr := cs.HostError(); herr != nil {
		cause := herr
		if callErr != nil {
			cause = fmt.Errorf("%w; engine reported: %w", herr, callErr)
		}
		callErr = errors.HostPending(entry, cause)
	}

	if freeErr := s.rawFree(ctx, errSlot); freeErr != nil {
		if callErr == nil {
			callErr = freeErr
		} else {
			logger().Warn("error slot release failed", zap.String("entry", entry), zap.Error(freeErr))
		}
	}

	callErr = s.detach(g, callErr)
	if callErr != nil {
		return nil, callErr
	}
	return out, nil
}

func (s *state) invokeProtocol(ctx context.Context, token gridlink.Token, entry string, args []uint64, errSlot uint32) ([]uint64, error) {
	if err := s.syncLogLevel(ctx, token, errSlot); err != nil {
		return nil, err
	}
	if err := s.mem.WriteU32(errSlot, 0); err != nil {
		return nil, err
	}

	full := make([]uint64, 0, len(args)+2)
	full = append(full, uint64(token))
	full = append(full, args...)
	full = append(full, uint64(errSlot))

	res, err := s.eng.Invoke(ctx, entry, full)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindFatal, err, "entry point "+entry+" trapped")
	}

	msg, err := s.takeErrorSignal(ctx, token, errSlot)
	if err != nil {
		return nil, err
	}
	if msg != "" {
		return nil, errors.EngineReported(entry, msg)
	}
	return res, nil
}

// syncLogLevel pushes the host logger's current severity to the engine
// before the entry point runs, so engine-side logging matches whatever
// the host is configured to show. Sync is idempotent and last writer
// wins, so concurrent calls need no ordering between each other.
func (s *state) syncLogLevel(ctx context.Context, token gridlink.Token, errSlot uint32) error {
	if err := s.mem.WriteU32(errSlot, 0); err != nil {
		return err
	}
	level := levelCode(engine.Level().Level())
	args := []uint64{uint64(token), uint64(uint32(level)), uint64(errSlot)}
	if _, err := s.eng.Invoke(ctx, engine.EntrySetLogLevel, args); err != nil {
		return errors.Wrap(errors.PhaseCall, errors.KindFatal, err, "log level sync trapped")
	}
	msg, err := s.takeErrorSignal(ctx, token, errSlot)
	if err != nil {
		return err
	}
	if msg != "" {
		return errors.EngineReported(engine.EntrySetLogLevel, msg)
	}
	return nil
}

// takeErrorSignal reads the error-signal slot and, when the callee left a
// message, copies and frees it. The message buffer is released exactly
// once; a failure to release is logged rather than replacing the report.
func (s *state) takeErrorSignal(ctx context.Context, token gridlink.Token, errSlot uint32) (string, error) {
	msgPtr, err := s.mem.ReadU32(errSlot)
	if err != nil {
		return "", err
	}
	if msgPtr == 0 {
		return "", nil
	}
	msg, readErr := marshal.ReadCString(s.mem, msgPtr)
	if err := s.rawFreeString(ctx, token, msgPtr); err != nil {
		logger().Warn("error message release failed", zap.Error(err))
	}
	if readErr != nil {
		return "", readErr
	}
	return msg, nil
}

// rawFreeString releases an engine-owned string outside the dispatch
// protocol. Used only for error messages, where re-entering the protocol
// could recurse on the very failure being reported.
func (s *state) rawFreeString(ctx context.Context, token gridlink.Token, ptr uint32) error {
	slot, err := s.rawAlloc(ctx, 4)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.rawFree(ctx, slot); err != nil {
			logger().Warn("scratch slot release failed", zap.Error(err))
		}
	}()
	if err := s.mem.WriteU32(slot, 0); err != nil {
		return err
	}
	args := []uint64{uint64(token), uint64(ptr), uint64(slot)}
	if _, err := s.eng.Invoke(ctx, engine.EntryFreeString, args); err != nil {
		return errors.Wrap(errors.PhaseRelease, errors.KindFatal, err, "free_string trapped")
	}
	signal, err := s.mem.ReadU32(slot)
	if err != nil {
		return err
	}
	if signal != 0 {
		return errors.Wrap(errors.PhaseRelease, errors.KindFatal, nil, "free_string reported an error")
	}
	return nil
}

func (s *state) rawAlloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := s.eng.Invoke(ctx, engine.EntryAlloc, []uint64{uint64(size)})
	if err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	if len(res) == 0 || res[0] == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	return uint32(res[0]), nil
}

func (s *state) rawFree(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if _, err := s.eng.Invoke(ctx, engine.EntryFree, []uint64{uint64(ptr)}); err != nil {
		return errors.Wrap(errors.PhaseRelease, errors.KindFatal, err, "engine_free trapped")
	}
	return nil
}

// levelCode maps zap severities onto the engine's numeric log levels.
func levelCode(l zapcore.Level) int32 {
	switch {
	case l <= zapcore.DebugLevel:
		return 10
	case l == zapcore.InfoLevel:
		return 20
	case l == zapcore.WarnLevel:
		return 30
	default:
		return 40
	}
}
