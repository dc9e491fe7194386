package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by storage backends that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a backend healthy when Ping succeeds.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker named name, e.g. "sqlite" or "clickhouse".
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the backend.
func (c *PingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.pinger.Ping(ctx)
}

// FuncChecker adapts a plain function, such as a broker connection probe.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncChecker creates a checker that calls fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) error {
	if c.fn == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.fn(ctx)
}
