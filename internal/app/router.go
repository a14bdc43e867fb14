package app

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"corkboard/api/internal/normalize"
	"corkboard/api/internal/resolve"
	"corkboard/api/internal/store"
)

type State int

const (
	StateIdle State = iota
	StateResolving
	StateResolved
	StateRedirecting
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateRedirecting:
		return "redirecting"
	case StateNotFound:
		return "not_found"
	}
	return "unknown"
}

// maxHops bounds replace-navigation loops; a well-formed ledger needs
// at most two hops (project correction, then board correction).
const maxHops = 4

// memoTTL bounds how long an unchanged path reuses its last committed
// navigation instead of re-running resolution.
const memoTTL = 30 * time.Second

type Resolver interface {
	Resolve(ctx context.Context, slugSeg, titleSeg string) (resolve.Resolution, error)
	CreateBoard(ctx context.Context, projectID, requestedTitle, actorID string) (store.Board, error)
}

// Navigation is what the router exposes to dependents once a path is
// settled. Location is the canonical path for Resolved, or "/" for
// NotFound.
type Navigation struct {
	State      State
	Path       string
	Location   string
	ProjectID  string
	BoardID    string
	Created    bool
	Redirected bool
}

// Router binds resolution to navigation. It owns the concurrency
// guards around lazy creation: an in-flight group so racing
// navigations coalesce into one creation, and a permanent attempted
// set so a failed or lost race is never retried until restart.
type Router struct {
	resolver Resolver

	flights   singleflight.Group
	creations singleflight.Group

	mu        sync.Mutex
	state     State
	attempted map[string]struct{}
	lastKey   string
	lastNav   Navigation
	lastAt    time.Time
}

func NewRouter(resolver Resolver) *Router {
	return &Router{
		resolver:  resolver,
		state:     StateIdle,
		attempted: make(map[string]struct{}),
	}
}

func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Navigate resolves path, following redirects by replace-navigation.
// Resolution re-runs only when the requested path changes; repeats of
// the unchanged path reuse the last committed navigation. The result
// is committed only if ctx is still live.
func (r *Router) Navigate(ctx context.Context, path, actorID string) (Navigation, error) {
	key := actorID + "|" + path

	r.mu.Lock()
	if r.lastKey == key && r.lastNav.State != StateIdle && time.Since(r.lastAt) < memoTTL {
		nav := r.lastNav
		r.mu.Unlock()
		return nav, nil
	}
	r.state = StateResolving
	r.mu.Unlock()

	result, err, _ := r.flights.Do(key, func() (any, error) {
		return r.navigate(ctx, path, actorID)
	})
	if err != nil {
		r.setState(StateIdle)
		return Navigation{}, err
	}
	if ctx.Err() != nil {
		// Navigated away mid-resolution: the work completed but the
		// result is discarded, not committed.
		return Navigation{}, ctx.Err()
	}

	nav := result.(Navigation)
	r.mu.Lock()
	r.state = nav.State
	r.lastKey = key
	r.lastNav = nav
	r.lastAt = time.Now()
	r.mu.Unlock()
	return nav, nil
}

func (r *Router) navigate(ctx context.Context, path, actorID string) (Navigation, error) {
	current := path
	redirected := false
	created := false

	for hop := 0; hop < maxHops; hop++ {
		slugSeg, titleSeg, ok := splitSegments(current)
		if !ok {
			return Navigation{State: StateNotFound, Path: path, Location: "/"}, nil
		}

		res, err := r.resolver.Resolve(ctx, slugSeg, titleSeg)
		if errors.Is(err, resolve.ErrProjectNotFound) {
			return Navigation{State: StateNotFound, Path: path, Location: "/"}, nil
		}
		if err != nil {
			return Navigation{}, err
		}

		if res.NeedsCreation {
			if res.Redirect {
				// The project slug was corrected; re-run the whole
				// chain against the corrected path before creating.
				current = r.redirect(res.CanonicalPath())
				redirected = true
				continue
			}
			board, ok := r.createOnce(ctx, res, actorID)
			if !ok {
				// No actor, already attempted, or the creation
				// failed: drop the board segment and resolve the
				// project alone.
				current = r.redirect("/" + url.PathEscape(res.ProjectSlug))
				redirected = true
				continue
			}
			created = true
			if board.Name != res.RequestedTitle {
				current = r.redirect("/" + url.PathEscape(res.ProjectSlug) + "/" + url.PathEscape(board.Name))
				redirected = true
				continue
			}
			return Navigation{
				State:      StateResolved,
				Path:       path,
				Location:   "/" + url.PathEscape(res.ProjectSlug) + "/" + url.PathEscape(board.Name),
				ProjectID:  res.ProjectID,
				BoardID:    board.ID,
				Created:    true,
				Redirected: redirected,
			}, nil
		}

		if res.Redirect {
			current = r.redirect(res.CanonicalPath())
			redirected = true
			continue
		}

		return Navigation{
			State:      StateResolved,
			Path:       path,
			Location:   res.CanonicalPath(),
			ProjectID:  res.ProjectID,
			BoardID:    res.BoardID,
			Created:    created,
			Redirected: redirected,
		}, nil
	}

	log.Printf("router: redirect budget exhausted for %q", path)
	return Navigation{State: StateNotFound, Path: path, Location: "/"}, nil
}

// createOnce runs lazy creation at most once per (project, title),
// coalescing concurrent attempts and never retrying after the first.
func (r *Router) createOnce(ctx context.Context, res resolve.Resolution, actorID string) (store.Board, bool) {
	if actorID == "" {
		return store.Board{}, false
	}
	key := res.ProjectID + "|" + normalize.Key(res.RequestedTitle)

	r.mu.Lock()
	_, done := r.attempted[key]
	r.mu.Unlock()
	if done {
		return store.Board{}, false
	}

	result, err, _ := r.creations.Do(key, func() (any, error) {
		defer func() {
			r.mu.Lock()
			r.attempted[key] = struct{}{}
			r.mu.Unlock()
		}()
		return r.resolver.CreateBoard(ctx, res.ProjectID, res.RequestedTitle, actorID)
	})
	if err != nil {
		log.Printf("router: lazy creation %s %q: %v", res.ProjectID, res.RequestedTitle, err)
		return store.Board{}, false
	}
	return result.(store.Board), true
}

func (r *Router) redirect(location string) string {
	r.setState(StateRedirecting)
	r.setState(StateResolving)
	return location
}

func (r *Router) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// splitSegments parses "/{slug}" or "/{slug}/{title}" with escaped
// segments. Anything else is not navigable.
func splitSegments(path string) (slugSeg, titleSeg string, ok bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	slugSeg, err := url.PathUnescape(parts[0])
	if err != nil || slugSeg == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		titleSeg, err = url.PathUnescape(parts[1])
		if err != nil || titleSeg == "" {
			return "", "", false
		}
	}
	return slugSeg, titleSeg, true
}
