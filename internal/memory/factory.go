package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a record store backend.
type Options struct {
	// Mode is one of postgres|sqlite|memory; empty picks postgres when a
	// database URL is set, then sqlite when a path is set, else memory.
	Mode             string
	DatabaseURL      string
	SQLitePath       string
	TablePrefix      string
	TextSearchConfig string
	SerializeRetries int
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.TextSearchConfig) == "" {
		o.TextSearchConfig = "english"
	}
	if o.SerializeRetries < 0 {
		o.SerializeRetries = 0
	}
	return o
}

func (o Options) tableName() string {
	return o.TablePrefix + "quotes"
}

func (o Options) validate() error {
	if !identPattern.MatchString(o.tableName()) {
		return fmt.Errorf("invalid quote table name %q", o.tableName())
	}
	if !identPattern.MatchString(o.TextSearchConfig) {
		return fmt.Errorf("invalid text search config %q", o.TextSearchConfig)
	}
	return nil
}

func (o Options) resolvedMode() string {
	mode := strings.ToLower(strings.TrimSpace(o.Mode))
	if mode != "" && mode != "auto" {
		return mode
	}
	switch {
	case strings.TrimSpace(o.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(o.SQLitePath) != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// NewStore creates the configured quote record store.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch opts.resolvedMode() {
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL, opts)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath, opts)
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown quote store mode %q", opts.Mode)
	}
}
