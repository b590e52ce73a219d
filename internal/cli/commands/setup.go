// Package commands implements the lakegov subcommands.
package commands

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/lakegov/internal/config"
	"github.com/leapstack-labs/lakegov/internal/engine"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/spf13/cobra"
)

// Session is what the root command resolves once per process: the loaded
// configuration, the logger and the principal every command acts as.
type Session struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Principal governance.Principal
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// sessionFrom returns the session in ctx, or an analyst session over
// defaults when none was stored.
func sessionFrom(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return s
	}
	return &Session{
		Cfg:       &config.Config{Output: config.DefaultOutput, Role: config.DefaultRole},
		Logger:    slog.New(slog.DiscardHandler),
		Principal: governance.NewPrincipal(config.DefaultRole),
	}
}

// CommandContext holds the common dependencies for command execution.
type CommandContext struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Principal governance.Principal
	Engine    *engine.Engine
	Renderer  *Renderer
}

// NewCommandContext builds the engine for cmd. Callers must invoke cleanup.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	s := sessionFrom(cmd.Context())

	eng, err := engine.New(cmd.Context(), s.Cfg, s.Logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			s.Logger.Warn("failed to close engine", "error", err)
		}
	}

	return &CommandContext{
		Cfg:       s.Cfg,
		Logger:    s.Logger,
		Principal: s.Principal,
		Engine:    eng,
		Renderer:  NewRenderer(cmd.OutOrStdout(), s.Cfg.Output),
	}, cleanup, nil
}

// requireWarehouseRead guards the audit read commands.
func (c *CommandContext) requireWarehouseRead(ctx context.Context) error {
	return c.Engine.Gate().CheckRead(ctx, c.Principal, governance.LayerWarehouse)
}
