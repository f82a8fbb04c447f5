package kernel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tglogger/pkg/chatlog"
)

// TestKernelRunCallsModuleLifecycle verifies lifecycle hook execution during run/shutdown.
func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()

	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	eventually(t, 2*time.Second, func() bool {
		return driver.started.Load() > 0
	})
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.started.Load() == 0 {
		t.Fatal("module OnStart was not called")
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called")
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

// TestKernelRunDeliversDriverEvents verifies driver publishes reach declared module handlers.
func TestKernelRunDeliversDriverEvents(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()

	received := make(chan *chatlog.Event, 1)
	module := &stubModule{
		name: "receiver",
		spec: chatlog.ModuleSpec{
			Handlers: []chatlog.ModuleHandler{
				{
					Interest: chatlog.InterestSet{
						Kinds: []chatlog.EventKind{chatlog.EventKindMessageCreated},
					},
					Subscription: chatlog.NewOrderedSubscriptionSpec("receiver-events"),
					Handler: func(_ context.Context, event *chatlog.Event) error {
						received <- event
						return nil
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{
		name: "publisher",
		events: []*chatlog.Event{
			newTestEvent("e1", chatlog.EventKindMessageCreated),
		},
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	select {
	case event := <-received:
		if event.ID != "e1" {
			t.Fatalf("event id = %s, want e1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("module did not receive driver event")
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}
}

// TestKernelRunReturnsDriverError verifies a fatal driver error stops the kernel.
func TestKernelRunReturnsDriverError(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	module := &stubModule{name: "observer"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driverErr := errors.New("session revoked")
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "failing", startErr: driverErr}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, driverErr) {
		t.Fatalf("run error = %v, want %v", err, driverErr)
	}
	if !strings.Contains(err.Error(), "run driver failing") {
		t.Fatalf("run error = %v, want driver scope", err)
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called after driver failure")
	}
}

// TestKernelRunRecoversDriverPanic verifies a panicking driver is reported, not fatal to the process.
func TestKernelRunRecoversDriverPanic(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "panicky", panicMsg: "decoder bug"}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic recovered: decoder bug") {
		t.Fatalf("run error = %v, want recovered panic", err)
	}
}

// TestKernelRunRejectsConcurrentRun verifies the single-run guard.
func TestKernelRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	driver := &stubDriver{name: "blocking"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()
	eventually(t, 2*time.Second, func() bool {
		return driver.started.Load() > 0
	})

	if err := kernelRuntime.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}
}

// TestRegisterModuleSpecValidation verifies rejected module declarations.
func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *chatlog.Event) error { return nil }
	tests := []struct {
		name    string
		module  chatlog.Module
		wantErr error
	}{
		{
			name:    "nil handler",
			module:  &stubModule{name: "nil-handler", spec: chatlog.ModuleSpec{Handlers: []chatlog.ModuleHandler{{}}}},
			wantErr: chatlog.ErrInvalidSubscription,
		},
		{
			name: "duplicate subscription name",
			module: &stubModule{name: "dup", spec: chatlog.ModuleSpec{Handlers: []chatlog.ModuleHandler{
				{Subscription: chatlog.SubscriptionSpec{Name: "same"}, Handler: noop},
				{Subscription: chatlog.SubscriptionSpec{Name: "same"}, Handler: noop},
			}}},
			wantErr: chatlog.ErrInvalidSubscription,
		},
		{
			name: "invalid backpressure",
			module: &stubModule{name: "bad-policy", spec: chatlog.ModuleSpec{Handlers: []chatlog.ModuleHandler{
				{Subscription: chatlog.SubscriptionSpec{Name: "ok"}, Handler: noop},
				{Subscription: chatlog.SubscriptionSpec{Name: "bad", Backpressure: "spill"}, Handler: noop},
			}}},
			wantErr: chatlog.ErrInvalidSubscription,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})

			err := kernelRuntime.RegisterModule(context.Background(), testCase.module)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("register error = %v, want %v", err, testCase.wantErr)
			}
			if len(kernelRuntime.orderedModules()) != 0 {
				t.Fatal("failed registration left module record behind")
			}
		})
	}
}

// TestRegisterDuplicates verifies duplicate module and driver names are rejected.
func TestRegisterDuplicates(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "twice"}); err != nil {
		t.Fatalf("first module register failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "twice"})
	if !errors.Is(err, chatlog.ErrModuleAlreadyRegistered) {
		t.Fatalf("module register error = %v, want ErrModuleAlreadyRegistered", err)
	}

	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "twice"}); err != nil {
		t.Fatalf("first driver register failed: %v", err)
	}
	err = kernelRuntime.RegisterDriver(&stubDriver{name: "twice"})
	if !errors.Is(err, chatlog.ErrDriverAlreadyRegistered) {
		t.Fatalf("driver register error = %v, want ErrDriverAlreadyRegistered", err)
	}

	if err := kernelRuntime.RegisterModule(context.Background(), nil); err == nil {
		t.Fatal("expected nil module to fail")
	}
	if err := kernelRuntime.RegisterDriver(nil); err == nil {
		t.Fatal("expected nil driver to fail")
	}
}

type stubModule struct {
	name string
	spec chatlog.ModuleSpec

	started  atomic.Int32
	shutdown atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() chatlog.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnStart(_ context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(_ context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	events   []*chatlog.Event
	startErr error
	panicMsg string

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, dispatcher chatlog.EventDispatcher) error {
	d.started.Add(1)
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	if d.startErr != nil {
		return d.startErr
	}
	for _, event := range d.events {
		if err := dispatcher.Publish(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (d *stubDriver) Shutdown(_ context.Context) error {
	d.stopped.Add(1)
	return nil
}
