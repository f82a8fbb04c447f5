package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/tglogger.session"
	defaultRuntimePublishDelay = 2 * time.Second
	defaultRuntimeAuthTimeout  = 3 * time.Minute
)

// DCConfig pins the data center the session bootstraps against.
// A zero ID keeps the gotd default selection.
type DCConfig struct {
	ID   int
	IP   string
	Port int
}

// RuntimeConfig carries everything needed to run one userbot session.
type RuntimeConfig struct {
	AppID          int
	AppHash        string
	Phone          string
	Password       string
	Code           string
	SessionFile    string
	DC             DCConfig
	AuthTimeout    time.Duration
	PublishTimeout time.Duration
	UpdateBuffer   int
	// Debug raises gotd internal logging from warn to debug.
	Debug bool
	// CodePrompt reads the login code when Code is empty. Defaults to stdin.
	CodePrompt func(ctx context.Context) (string, error)
}

// Validate reports every runtime config problem at once.
func (c RuntimeConfig) Validate() error {
	var errs []error
	if c.AppID <= 0 {
		errs = append(errs, fmt.Errorf("app id must be > 0"))
	}
	if strings.TrimSpace(c.AppHash) == "" {
		errs = append(errs, fmt.Errorf("app hash is required"))
	}
	if strings.TrimSpace(c.Phone) == "" {
		errs = append(errs, fmt.Errorf("phone is required"))
	}
	if c.DC.ID != 0 {
		if c.DC.ID < 1 || c.DC.ID > 5 {
			errs = append(errs, fmt.Errorf("dc id %d must be between 1 and 5", c.DC.ID))
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(c.DC.IP))
		if err != nil || !addr.Is4() {
			errs = append(errs, fmt.Errorf("dc ip %q must be a valid IPv4 address", c.DC.IP))
		}
		if c.DC.Port < 1 || c.DC.Port > 65535 {
			errs = append(errs, fmt.Errorf("dc port %d must be between 1 and 65535", c.DC.Port))
		}
	}
	if c.AuthTimeout < 0 {
		errs = append(errs, fmt.Errorf("auth timeout must not be negative"))
	}
	if c.PublishTimeout < 0 {
		errs = append(errs, fmt.Errorf("publish timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	c.AppHash = strings.TrimSpace(c.AppHash)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Password = strings.TrimSpace(c.Password)
	c.Code = strings.TrimSpace(c.Code)
	c.SessionFile = strings.TrimSpace(c.SessionFile)
	if c.SessionFile == "" {
		c.SessionFile = defaultRuntimeSessionFile
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = defaultRuntimeAuthTimeout
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = defaultRuntimePublishDelay
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = defaultGotdUpdateBuffer
	}
	if c.CodePrompt == nil {
		c.CodePrompt = func(context.Context) (string, error) {
			return promptLoginCode(os.Stdin, os.Stdout)
		}
	}

	return c
}

// BuildRuntime builds one telegram driver backed by a gotd userbot session.
func BuildRuntime(name string, logger *slog.Logger, cfg RuntimeConfig) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate telegram runtime config: %w", err)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	updateChannel, err := NewGotdUpdateChannel(cfg.UpdateBuffer)
	if err != nil {
		return nil, fmt.Errorf("new gotd update channel: %w", err)
	}

	sessionStorage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	gotdLogger, err := newGotdLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("new gotd logger: %w", err)
	}

	options := gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
		Logger:         gotdLogger,
	}
	if cfg.DC.ID != 0 {
		options.DC = cfg.DC.ID
		options.DCList = gotdDCList(cfg.DC)
	}
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, options)

	entities := NewEntityCache()
	self := NewSelfIdentity()
	reportError := func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "telegram driver async error", "driver", name, "error", err)
	}

	source, err := NewGotdUserbotSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				if err := authenticateGotdClient(ctx, logger, client, cfg); err != nil {
					return err
				}
				return rememberSelf(ctx, client, self, entities)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(
			WithEntityCache(entities),
			WithSelfIdentity(self),
		),
		WithMapErrorHandler(reportError),
	)
	if err != nil {
		return nil, fmt.Errorf("new gotd userbot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(reportError),
		WithShutdownHook(func(context.Context) error {
			return ignoreSyncError(gotdLogger.Sync())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram driver: %w", err)
	}

	return driver, nil
}

// gotdDCList pins the configured data center address ahead of the built-in
// production list, which still serves every other data center.
func gotdDCList(dc DCConfig) dcs.List {
	list := dcs.Prod()
	pinned := tg.DCOption{
		ID:        dc.ID,
		IPAddress: strings.TrimSpace(dc.IP),
		Port:      dc.Port,
	}
	list.Options = append([]tg.DCOption{pinned}, list.Options...)

	return list
}

func newGotdLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger.Named("gotd"), nil
}

// ignoreSyncError drops the error zap returns when syncing a terminal or pipe.
func ignoreSyncError(err error) error {
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return nil
	}

	return fmt.Errorf("sync gotd logger: %w", err)
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

func authenticateGotdClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg RuntimeConfig,
) error {
	if client == nil {
		return fmt.Errorf("authenticate gotd client: nil client")
	}

	authCtx := ctx
	cancel := func() {}
	if cfg.AuthTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, cfg.AuthTimeout)
		authCtx = timeoutCtx
		cancel = timeoutCancel
	}
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.SessionFile)
		return nil
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(codeCtx context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := resolveLoginCode(codeCtx, cfg)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.Phone, codeAuthenticator)
	if cfg.Password != "" {
		authenticator = auth.Constant(cfg.Phone, cfg.Password, codeAuthenticator)
	}

	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})

	if err := client.Auth().IfNecessary(authCtx, flow); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.InfoContext(ctx, "telegram authorized with user flow", "session_file", cfg.SessionFile)

	return nil
}

// rememberSelf loads the authorized account so outgoing private messages
// can be attributed to it.
func rememberSelf(ctx context.Context, client *gotdtelegram.Client, self *SelfIdentity, entities *EntityCache) error {
	user, err := client.Self(ctx)
	if err != nil {
		return fmt.Errorf("load authorized account: %w", err)
	}
	self.Set(user)
	entities.RememberUser(user)

	return nil
}

func resolveLoginCode(ctx context.Context, cfg RuntimeConfig) (string, error) {
	if cfg.Code != "" {
		return cfg.Code, nil
	}

	return cfg.CodePrompt(ctx)
}

func promptLoginCode(in *os.File, out io.Writer) (string, error) {
	stdinInfo, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("login code is not configured and stdin is not interactive")
	}

	fmt.Fprint(out, "Enter Telegram login code: ")

	return readLoginCode(in)
}

func readLoginCode(in io.Reader) (string, error) {
	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
