package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRuntimeConfigValidate(t *testing.T) {
	t.Parallel()

	valid := RuntimeConfig{
		AppID:   12345,
		AppHash: "0123456789abcdef0123456789abcdef",
		Phone:   "+15551234567",
	}

	tests := []struct {
		name       string
		mutate     func(cfg *RuntimeConfig)
		wantSubstr []string
	}{
		{
			name:   "valid without dc",
			mutate: func(*RuntimeConfig) {},
		},
		{
			name: "valid with dc",
			mutate: func(cfg *RuntimeConfig) {
				cfg.DC = DCConfig{ID: 2, IP: "149.154.167.50", Port: 443}
			},
		},
		{
			name: "missing credentials are all reported",
			mutate: func(cfg *RuntimeConfig) {
				cfg.AppID = 0
				cfg.AppHash = " "
				cfg.Phone = ""
			},
			wantSubstr: []string{"app id", "app hash", "phone"},
		},
		{
			name: "bad dc",
			mutate: func(cfg *RuntimeConfig) {
				cfg.DC = DCConfig{ID: 9, IP: "2001:db8::1", Port: 70000}
			},
			wantSubstr: []string{"dc id 9", "IPv4", "dc port 70000"},
		},
		{
			name: "negative timeouts",
			mutate: func(cfg *RuntimeConfig) {
				cfg.AuthTimeout = -time.Second
				cfg.PublishTimeout = -time.Second
			},
			wantSubstr: []string{"auth timeout", "publish timeout"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			testCase.mutate(&cfg)
			err := cfg.Validate()
			if len(testCase.wantSubstr) == 0 {
				if err != nil {
					t.Fatalf("validate = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, substr := range testCase.wantSubstr {
				if !strings.Contains(err.Error(), substr) {
					t.Fatalf("error = %v, want substring %q", err, substr)
				}
			}
		})
	}
}

func TestRuntimeConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := RuntimeConfig{AppHash: " hash ", Code: " 12345 "}.withDefaults()
	if cfg.AppHash != "hash" || cfg.Code != "12345" {
		t.Fatalf("trimmed = %q %q, want hash 12345", cfg.AppHash, cfg.Code)
	}
	if cfg.SessionFile != defaultRuntimeSessionFile {
		t.Fatalf("session file = %q, want default", cfg.SessionFile)
	}
	if cfg.AuthTimeout != defaultRuntimeAuthTimeout || cfg.PublishTimeout != defaultRuntimePublishDelay {
		t.Fatalf("timeouts = %v %v, want defaults", cfg.AuthTimeout, cfg.PublishTimeout)
	}
	if cfg.UpdateBuffer != defaultGotdUpdateBuffer {
		t.Fatalf("update buffer = %d, want default", cfg.UpdateBuffer)
	}
	if cfg.CodePrompt == nil {
		t.Fatal("expected default code prompt")
	}
}

func TestResolveLoginCode(t *testing.T) {
	t.Parallel()

	prompted := false
	cfg := RuntimeConfig{
		CodePrompt: func(context.Context) (string, error) {
			prompted = true
			return "54321", nil
		},
	}

	code, err := resolveLoginCode(context.Background(), cfg)
	if err != nil || code != "54321" || !prompted {
		t.Fatalf("prompted code = %q %v %v, want 54321 from prompt", code, err, prompted)
	}

	prompted = false
	cfg.Code = "11111"
	code, err = resolveLoginCode(context.Background(), cfg)
	if err != nil || code != "11111" || prompted {
		t.Fatalf("configured code = %q %v %v, want 11111 without prompt", code, err, prompted)
	}
}

func TestReadLoginCode(t *testing.T) {
	t.Parallel()

	code, err := readLoginCode(strings.NewReader(" 24680 \n"))
	if err != nil || code != "24680" {
		t.Fatalf("read code = %q %v, want 24680", code, err)
	}
	code, err = readLoginCode(strings.NewReader("13579"))
	if err != nil || code != "13579" {
		t.Fatalf("read code without newline = %q %v, want 13579", code, err)
	}
	if _, err := readLoginCode(strings.NewReader("\n")); err == nil {
		t.Fatal("expected empty code error")
	}
}

func TestGotdDCListPinsConfiguredAddress(t *testing.T) {
	t.Parallel()

	list := gotdDCList(DCConfig{ID: 4, IP: "149.154.167.91", Port: 443})
	if len(list.Options) < 2 {
		t.Fatalf("options = %d, want pinned option plus production list", len(list.Options))
	}

	pinned := list.Options[0]
	if pinned.ID != 4 || pinned.IPAddress != "149.154.167.91" || pinned.Port != 443 {
		t.Fatalf("pinned option = %+v, want dc 4 at 149.154.167.91:443", pinned)
	}
}

func TestBuildRuntimeRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := BuildRuntime("telegram", nil, RuntimeConfig{}); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestBuildRuntime(t *testing.T) {
	t.Parallel()

	driver, err := BuildRuntime("telegram", nil, RuntimeConfig{
		AppID:       12345,
		AppHash:     "0123456789abcdef0123456789abcdef",
		Phone:       "+15551234567",
		SessionFile: filepath.Join(t.TempDir(), "session", "tglogger.session"),
		DC:          DCConfig{ID: 2, IP: "149.154.167.50", Port: 443},
	})
	if err != nil {
		t.Fatalf("build runtime failed: %v", err)
	}
	if driver.Name() != "telegram" {
		t.Fatalf("driver name = %q, want telegram", driver.Name())
	}
}

func TestNewGotdSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newGotdSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new gotd session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newGotdSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
