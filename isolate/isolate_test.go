package isolate_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/engine/enginetest"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/isolate"
)

func setup(t *testing.T, cfg engine.Config) *enginetest.Fake {
	t.Helper()
	fake := enginetest.New(cfg)
	if err := isolate.Init(context.Background(), isolate.Config{Engine: fake}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		if isolate.Active() {
			if err := isolate.Shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		}
	})
	return fake
}

func TestInitTwiceFails(t *testing.T) {
	setup(t, engine.Config{})
	err := isolate.Init(context.Background(), isolate.Config{Engine: enginetest.New(engine.Config{})})
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindAlreadyInitialized {
		t.Fatalf("second init: %v, want already_initialized", err)
	}
}

func TestShutdownWithoutInitFails(t *testing.T) {
	err := isolate.Shutdown(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNotInitialized {
		t.Fatalf("shutdown: %v, want not_initialized", err)
	}
}

func TestCallWithoutInitFails(t *testing.T) {
	_, err := isolate.Call(context.Background(), engine.EntryGetVersionTable)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNotInitialized {
		t.Fatalf("call: %v, want not_initialized", err)
	}
}

func TestCallRejectsUnknownEntry(t *testing.T) {
	setup(t, engine.Config{})
	_, err := isolate.Call(context.Background(), "run_arbitrage")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Fatalf("call: %v, want invalid_input", err)
	}
}

func TestCallAttachesAndDetachesOnce(t *testing.T) {
	fake := setup(t, engine.Config{})
	if _, err := isolate.CallString(context.Background(), engine.EntryGetVersionTable); err != nil {
		t.Fatalf("call: %v", err)
	}
	// One attachment for the version call, one for freeing its string.
	if fake.AttachCount() != fake.DetachCount() {
		t.Fatalf("attach %d, detach %d", fake.AttachCount(), fake.DetachCount())
	}
	if fake.ActiveTokens() != 0 {
		t.Fatalf("%d tokens still attached", fake.ActiveTokens())
	}
}

func TestNestedCallReusesAttachment(t *testing.T) {
	fake := setup(t, engine.Config{})
	var nestedErr error
	fake.OnEntry = func(ctx context.Context, entry string) {
		if entry != engine.EntryGetVersionTable {
			return
		}
		if !isolate.Attached(ctx) {
			nestedErr = fmt.Errorf("callback context not attached")
			return
		}
		fake.OnEntry = nil
		_, nestedErr = isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	}
	if _, err := isolate.CallString(context.Background(), engine.EntryGetVersionTable); err != nil {
		t.Fatalf("outer call: %v", err)
	}
	if nestedErr != nil {
		t.Fatalf("nested call: %v", nestedErr)
	}
	// The outer call owns the only attachment of its context; the nested
	// call and the string free on fresh contexts attach on their own,
	// but every attachment is balanced by a detach.
	if fake.AttachCount() != fake.DetachCount() {
		t.Fatalf("attach %d, detach %d", fake.AttachCount(), fake.DetachCount())
	}
	if fake.ActiveTokens() != 0 {
		t.Fatalf("%d tokens still attached", fake.ActiveTokens())
	}
}

func TestEngineErrorReportedVerbatim(t *testing.T) {
	fake := setup(t, engine.Config{})
	fake.FailNextCall(engine.EntryCreateNetwork, "Inconsistent voltage level: VLHV1")

	_, err := isolate.Call(context.Background(), engine.EntryCreateNetwork, 0, 0)
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("call: %v", err)
	}
	if e.Kind != errors.KindEngineReported || e.Entry != engine.EntryCreateNetwork {
		t.Fatalf("got kind %s entry %s", e.Kind, e.Entry)
	}
	if e.Detail != "Inconsistent voltage level: VLHV1" {
		t.Fatalf("message not verbatim: %q", e.Detail)
	}
	if n := fake.FreeCount(engine.EntryFreeString); n != 1 {
		t.Fatalf("error message freed %d times, want 1", n)
	}
}

func TestHostPendingErrorWins(t *testing.T) {
	hostErr := fmt.Errorf("host rejected notification")
	fake := setup(t, engine.Config{
		Notify: func(string) error { return hostErr },
	})
	fake.NotifyNextCall(engine.EntryCreateNetwork, "progress")
	fake.FailNextCall(engine.EntryCreateNetwork, "callee failure")

	_, err := isolate.Call(context.Background(), engine.EntryCreateNetwork, 0, 0)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindHostPending {
		t.Fatalf("call: %v, want host_pending", err)
	}
	if !stderrors.Is(err, hostErr) {
		t.Fatalf("host cause lost: %v", err)
	}
	// The callee also failed; its report stays in the chain behind the
	// host error instead of being discarded.
	if !strings.Contains(err.Error(), "callee failure") {
		t.Fatalf("callee report lost: %v", err)
	}
	// The callee's message must still be cleaned up.
	if n := fake.FreeCount(engine.EntryFreeString); n != 1 {
		t.Fatalf("error message freed %d times, want 1", n)
	}
}

func TestConcurrentCallErrorIsolation(t *testing.T) {
	fake := setup(t, engine.Config{})
	fake.FailNextCall(engine.EntryCreateSecurityAnalysis, "boom")

	var wg sync.WaitGroup
	var failErr, okErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, failErr = isolate.Call(context.Background(), engine.EntryCreateSecurityAnalysis)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if _, err := isolate.Call(context.Background(), engine.EntryCreateSensitivityAnalysis); err != nil {
				okErr = err
				return
			}
		}
	}()
	wg.Wait()

	var e *errors.Error
	if !stderrors.As(failErr, &e) || e.Detail != "boom" {
		t.Fatalf("failing goroutine: %v", failErr)
	}
	if okErr != nil {
		t.Fatalf("healthy goroutine caught a foreign error: %v", okErr)
	}
}

func TestLogLevelSyncedBeforeEntry(t *testing.T) {
	fake := setup(t, engine.Config{})
	if _, err := isolate.Call(context.Background(), engine.EntryCreateSecurityAnalysis); err != nil {
		t.Fatalf("call: %v", err)
	}
	// The nop logger sits at info; the fake must have seen the sync.
	if fake.LogLevel() == 0 {
		t.Fatal("log level never synced")
	}
	calls := fake.Calls()
	if len(calls) < 2 || calls[0] != engine.EntrySetLogLevel {
		t.Fatalf("set_log_level not first: %v", calls)
	}
}

func TestHandleLastReleaseDestroysObject(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	res, err := isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := isolate.WrapHandle(uint32(res[0]))
	h.Clone()

	if err := h.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if fake.LiveObjects() != 1 {
		t.Fatal("object destroyed while a reference remained")
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("last release: %v", err)
	}
	if fake.LiveObjects() != 0 {
		t.Fatal("object survived the last release")
	}
	if h.Valid() {
		t.Fatal("handle still valid after last release")
	}
}

func TestShutdownDestroysLeakedHandles(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	res, err := isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := isolate.WrapHandle(uint32(res[0]))

	if err := isolate.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects survived shutdown", fake.LiveObjects())
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release after shutdown not a no-op: %v", err)
	}
}

func TestHandleDoubleReleaseIsNoOp(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	res, err := isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := isolate.WrapHandle(uint32(res[0]))
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.Release(ctx); err != nil {
			t.Fatalf("extra release %d: %v", i, err)
		}
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects live", fake.LiveObjects())
	}
}

func TestNullHandleIsInert(t *testing.T) {
	setup(t, engine.Config{})
	h := isolate.WrapHandle(0)
	if h.Valid() {
		t.Fatal("null handle claims validity")
	}
	arg, err := h.Arg()
	if err != nil || arg != 0 {
		t.Fatalf("null arg: %d, %v", arg, err)
	}
	if err := h.Release(context.Background()); err != nil {
		t.Fatalf("null release: %v", err)
	}
	var nilHandle *isolate.Handle
	if err := nilHandle.Release(context.Background()); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}

func TestStaleHandleRejectedAsArgument(t *testing.T) {
	setup(t, engine.Config{})
	ctx := context.Background()
	res, err := isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := isolate.WrapHandle(uint32(res[0]))
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := h.Arg(); err == nil {
		t.Fatal("released handle accepted as argument")
	}
}

func TestBufferReleaseExactlyOnce(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	res, err := isolate.Call(ctx, engine.EntryGetLoadFlowProviderNames)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	buf := isolate.WrapBuffer(isolate.KindStringArray, uint32(res[0]))

	for i := 0; i < 2; i++ {
		names, err := buf.Strings()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(names) != 2 || names[0] != "OpenLoadFlow" {
			t.Fatalf("read %d: %v", i, names)
		}
	}
	for i := 0; i < 3; i++ {
		if err := buf.Release(ctx); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if n := fake.FreeCount(engine.EntryFreeStringArray); n != 1 {
		t.Fatalf("freed %d times, want 1", n)
	}
	if _, err := buf.Strings(); err == nil {
		t.Fatal("read after release succeeded")
	}
}

func TestSubArrayReleaseNeverReachesEngine(t *testing.T) {
	fake := setup(t, engine.Config{})
	buf := isolate.WrapBuffer(isolate.KindSubArray, 0x1234)
	if err := buf.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	for _, entry := range []string{engine.EntryFreeArray, engine.EntryFreeStringArray} {
		if n := fake.FreeCount(entry); n != 0 {
			t.Fatalf("sub-array release reached %s", entry)
		}
	}
}

func TestTakeStringMapConsumesBuffer(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	netRes, err := isolate.Call(ctx, engine.EntryCreateNetwork, 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := isolate.WrapHandle(uint32(netRes[0]))
	defer h.Release(ctx)

	arg, _ := h.Arg()
	res, err := isolate.Call(ctx, engine.EntryGetNetworkMetadata, arg)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	m, err := isolate.TakeStringMap(ctx, uint32(res[0]))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if m["format"] != "XIIDM" {
		t.Fatalf("map %v", m)
	}
	if n := fake.FreeCount(engine.EntryFreeStringMap); n != 1 {
		t.Fatalf("map freed %d times, want 1", n)
	}
}

func TestNoAllocationsSurviveCleanRun(t *testing.T) {
	fake := setup(t, engine.Config{})
	ctx := context.Background()
	if _, err := isolate.CallString(ctx, engine.EntryGetVersionTable); err != nil {
		t.Fatalf("version: %v", err)
	}
	res, err := isolate.Call(ctx, engine.EntryGetLoadFlowProviderNames)
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if _, err := isolate.TakeStrings(ctx, uint32(res[0])); err != nil {
		t.Fatalf("take: %v", err)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}
