package server

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks holds the cleanup steps run once the server has stopped
// accepting requests. Hooks run in registration order; a failing hook is
// logged and does not prevent the rest from running.
type ShutdownHooks struct {
	mu    sync.Mutex
	hooks []hook
}

// Add registers a hook that honours the shutdown deadline carried by its
// context. Nil hooks are ignored.
func (s *ShutdownHooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddFunc registers a hook that cannot fail, such as releasing idle
// connections.
func (s *ShutdownHooks) AddFunc(name string, fn func()) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.Add(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Run executes every hook and returns the joined failures.
func (s *ShutdownHooks) Run(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()

	l := log.Ctx(ctx)

	var errs []error
	for _, h := range hooks {
		hookLog := l.With().Str("hook", h.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := h.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, err)
			continue
		}
		hookLog.Info().Msg("shutdown complete")
	}

	return errors.Join(errs...)
}
