// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultGenerateTimeout bounds one online generation attempt.
const DefaultGenerateTimeout = 25 * time.Second

// FailoverGenerator tries the online backend once under a timeout and falls
// back to the deterministic offline generator on any failure. It never
// retries online indefinitely: a turn is always answered with a scored
// draft, degraded rather than dropped.
type FailoverGenerator struct {
	online  Generator
	offline *OfflineGenerator
	timeout time.Duration

	// onFallback, when set, is invoked once per offline fallback. Used to
	// feed metrics without coupling this package to the metrics registry.
	onFallback func()
}

// Compile-time interface implementation check.
var _ Generator = (*FailoverGenerator)(nil)

// NewFailoverGenerator composes the failover chain. online may be nil, in
// which case every call is served offline. A non-positive timeout falls back
// to DefaultGenerateTimeout.
func NewFailoverGenerator(online Generator, offline *OfflineGenerator, timeout time.Duration) *FailoverGenerator {
	if offline == nil {
		offline = NewOfflineGenerator()
	}
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &FailoverGenerator{online: online, offline: offline, timeout: timeout}
}

// OnFallback registers a callback fired whenever the offline path is taken
// because the online backend failed or was absent.
func (f *FailoverGenerator) OnFallback(fn func()) {
	f.onFallback = fn
}

// Generate implements Generator.
func (f *FailoverGenerator) Generate(ctx context.Context, req *Request) (*Draft, error) {
	if f.online != nil {
		genCtx, cancel := context.WithTimeout(ctx, f.timeout)
		draft, err := f.online.Generate(genCtx, req)
		cancel()
		if err == nil {
			return draft, nil
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Online generation failed with unexpected error, falling back offline", "error", err)
		} else {
			slog.Info("Online generation unavailable, falling back offline", "error", err)
		}
		if f.onFallback != nil {
			f.onFallback()
		}
	}
	return f.offline.Generate(ctx, req)
}
