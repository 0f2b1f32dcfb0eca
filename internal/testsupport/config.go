package testsupport

import (
	"path/filepath"
	"testing"

	"tipline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Node.ReceiptSalt = "test-salt"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.AttachmentsDir = filepath.Join(base, "data", "attachments")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithReceiptSalt sets the node receipt salt on the test config.
func WithReceiptSalt(salt string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Node.ReceiptSalt = salt
	}
}

// WithSMTP points mail delivery at the given host and port.
func WithSMTP(host string, port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.SMTP.Host = host
		b.cfg.SMTP.Port = port
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
