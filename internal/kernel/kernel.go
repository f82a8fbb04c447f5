package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tglogger/pkg/chatlog"
)

// Kernel wires drivers to modules through the event bus and owns their lifecycle.
type Kernel struct {
	cfg config
	bus *EventBus

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	drivers     map[string]chatlog.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel with the given options applied over defaults.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg: cfg,
		bus: NewEventBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		modules:     make(map[string]*moduleRecord),
		moduleOrder: make([]string, 0),
		drivers:     make(map[string]chatlog.Driver),
		driverOrder: make([]string, 0),
	}
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() *EventBus {
	return k.bus
}

// RegisterModule registers module and subscribes every handler it declares.
// A failed subscription rolls the whole registration back.
func (k *Kernel) RegisterModule(ctx context.Context, module chatlog.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	moduleSpec := module.Spec()
	if err := validateModuleSpec(moduleSpec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{name: name, module: module}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, chatlog.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if err := k.registerDeclaredHandlers(hookCtx, record, moduleSpec.Handlers); err != nil {
		k.rollbackModuleRegistration(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(moduleSpec.Handlers),
	)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver chatlog.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, chatlog.ErrDriverAlreadyRegistered)
	}

	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules, runs drivers, and blocks until ctx is canceled or a
// driver fails. Shutdown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	runCancel()
	waitDrivers()

	shutdownErr := k.shutdownAll(ctx)

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, shutdownErr)
}

func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order with per-module timeouts.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.orderedModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver concurrently. The returned channel carries
// the first fatal driver error, or context.Canceled once all drivers returned.
// The wait function blocks for driver exit up to the shutdown timeout.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	workerWG := &sync.WaitGroup{}

	for _, driver := range k.orderedDrivers() {
		workerWG.Add(1)
		go func(adapter chatlog.Driver) {
			defer workerWG.Done()
			driverName := adapter.Name()
			err := runSafely("driver "+driverName+" Start", func() error {
				return adapter.Start(ctx, k.bus)
			})
			if err == nil || isContextCancellation(err) {
				k.cfg.logger.InfoContext(ctx, "driver stopped", "driver", driverName)
				return
			}
			select {
			case errChannel <- fmt.Errorf("run driver %s: %w", driverName, err):
			default:
			}
		}(driver)
	}

	go func() {
		workerWG.Wait()
		close(done)
		select {
		case errChannel <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop before shutdown timeout",
				"timeout", k.cfg.shutdownTimeout,
			)
		}
	}

	return errChannel, wait
}

// shutdownAll tears down drivers, modules, and the bus within the shutdown timeout.
// Cleanup runs detached from ctx so it still happens after cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	shutdownErr := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	drivers := k.orderedDrivers()

	var shutdownErr error
	for idx := len(drivers) - 1; idx >= 0; idx-- {
		driver := drivers[idx]
		name := driver.Name()
		if err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", name, err))
		}
	}

	return shutdownErr
}

// shutdownModules closes subscriptions and calls OnShutdown in reverse order.
// Subscriptions close first so OnShutdown never races a running handler.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.orderedModules()

	var shutdownErr error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}

		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

func (k *Kernel) orderedModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if record := k.modules[name]; record != nil {
			records = append(records, record)
		}
	}

	return records
}

func (k *Kernel) orderedDrivers() []chatlog.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]chatlog.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		if driver := k.drivers[name]; driver != nil {
			drivers = append(drivers, driver)
		}
	}

	return drivers
}

// rollbackModuleRegistration removes a partially registered module.
func (k *Kernel) rollbackModuleRegistration(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback_module_registration", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, record.name)
	k.moduleOrder = removeOrderedName(k.moduleOrder, record.name)
}

// registerDeclaredHandlers subscribes every handler from the module spec.
func (k *Kernel) registerDeclaredHandlers(
	ctx context.Context,
	record *moduleRecord,
	handlers []chatlog.ModuleHandler,
) error {
	for idx, declared := range handlers {
		spec := declared.Subscription
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", record.name, idx+1)
		}
		subscription, err := k.bus.Subscribe(ctx, declared.Interest, spec, declared.Handler)
		if err != nil {
			return fmt.Errorf("register handler %s: %w", spec.Name, err)
		}
		record.addSubscription(subscription)
	}

	return nil
}

// validateModuleSpec ensures declared handlers are usable and uniquely named.
func validateModuleSpec(spec chatlog.ModuleSpec) error {
	seenSubscriptions := make(map[string]struct{}, len(spec.Handlers))

	for idx, handler := range spec.Handlers {
		if handler.Handler == nil {
			return fmt.Errorf("module handler %d: nil handler: %w", idx, chatlog.ErrInvalidSubscription)
		}
		name := handler.Subscription.Name
		if name == "" {
			continue
		}
		if _, exists := seenSubscriptions[name]; exists {
			return fmt.Errorf("module handler %d: duplicate subscription name %s: %w", idx, name, chatlog.ErrInvalidSubscription)
		}
		seenSubscriptions[name] = struct{}{}
	}

	return nil
}

func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}
