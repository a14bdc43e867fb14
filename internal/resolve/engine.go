// Package resolve turns mutable path segments into stable ids. Each
// segment runs a three-step chain: direct index lookup, rename-history
// fallback, then a terminal step (not-found for projects, lazy
// creation for boards).
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"

	"corkboard/api/internal/history"
	"corkboard/api/internal/index"
	"corkboard/api/internal/normalize"
	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

var (
	// ErrProjectNotFound is terminal: the caller must treat it as a
	// hard 404.
	ErrProjectNotFound = errors.New("project not found")
	// ErrNoActor means lazy creation was requested without an
	// authenticated actor.
	ErrNoActor = errors.New("no authenticated actor")
)

// EntityStore is the slice of the persistent store the engine needs.
type EntityStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	CreateBoard(ctx context.Context, item store.Board, titleKey string) error
}

// Resolution is the outcome of one pass over the chain. When Redirect
// is set the requested path differs from CanonicalPath and the caller
// should replace-navigate and re-run. NeedsCreation means both lookup
// steps missed for the board segment; creation is the caller's call so
// it can dedup concurrent attempts.
type Resolution struct {
	ProjectID      string
	ProjectSlug    string
	BoardID        string
	BoardName      string
	RequestedTitle string
	NeedsCreation  bool
	Redirect       bool
}

// CanonicalPath is the current-truth path for the resolved identity.
func (r Resolution) CanonicalPath() string {
	path := "/" + url.PathEscape(r.ProjectSlug)
	switch {
	case r.BoardID != "":
		path += "/" + url.PathEscape(r.BoardName)
	case r.NeedsCreation:
		path += "/" + url.PathEscape(r.RequestedTitle)
	}
	return path
}

type Engine struct {
	store  EntityStore
	slugs  *index.Store
	titles *index.Store
	ledger *history.Ledger
}

func New(entityStore EntityStore, slugs, titles *index.Store, ledger *history.Ledger) *Engine {
	return &Engine{store: entityStore, slugs: slugs, titles: titles, ledger: ledger}
}

// Resolve runs the chain for the project segment and, when given, the
// board segment scoped to the resolved project. Lookup-step storage
// errors are logged and degrade to the next step; only context
// cancellation and terminal project misses surface as errors.
func (e *Engine) Resolve(ctx context.Context, slugSeg, titleSeg string) (Resolution, error) {
	project, projectRedirect, err := e.resolveProject(ctx, slugSeg)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		ProjectID:   project.ID,
		ProjectSlug: project.Slug,
		Redirect:    projectRedirect,
	}
	if titleSeg == "" {
		return res, nil
	}

	board, boardRedirect, found, err := e.resolveBoard(ctx, project, titleSeg)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		res.BoardID = board.ID
		res.BoardName = board.Name
		res.Redirect = projectRedirect || boardRedirect
		return res, nil
	}

	res.NeedsCreation = true
	res.RequestedTitle = titleSeg
	return res, nil
}

func (e *Engine) resolveProject(ctx context.Context, seg string) (store.Project, bool, error) {
	// DirectLookup, confirmed against the live entity's current slug.
	id, ok, err := e.slugs.Get(ctx, "", seg)
	if err != nil {
		if fatal(err) {
			return store.Project{}, false, err
		}
		log.Printf("resolve: slug index %q: %v", seg, err)
	} else if ok {
		project, err := e.store.GetProject(ctx, id)
		switch {
		case err == nil && keysMatch(project.Slug, seg):
			return project, false, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			if fatal(err) {
				return store.Project{}, false, err
			}
			log.Printf("resolve: project %s: %v", id, err)
		}
		// Stale index entry: fall through to history.
	}

	// HistoricalLookup; the owner's live slug decides the redirect.
	id, ok, err = e.ledger.FindProjectByOldSlug(ctx, seg)
	if err != nil {
		if fatal(err) {
			return store.Project{}, false, err
		}
		log.Printf("resolve: slug history %q: %v", seg, err)
	} else if ok {
		project, err := e.store.GetProject(ctx, id)
		if err == nil {
			return project, project.Slug != seg, nil
		}
		if fatal(err) {
			return store.Project{}, false, err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("resolve: project %s: %v", id, err)
		}
	}

	return store.Project{}, false, ErrProjectNotFound
}

func (e *Engine) resolveBoard(ctx context.Context, project store.Project, seg string) (store.Board, bool, bool, error) {
	id, ok, err := e.titles.Get(ctx, project.ID, seg)
	if err != nil {
		if fatal(err) {
			return store.Board{}, false, false, err
		}
		log.Printf("resolve: title index %s %q: %v", project.ID, seg, err)
	} else if ok {
		board, err := e.store.GetBoard(ctx, id)
		switch {
		case err == nil && board.ProjectID == project.ID && keysMatch(board.Name, seg):
			return board, false, true, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			if fatal(err) {
				return store.Board{}, false, false, err
			}
			log.Printf("resolve: board %s: %v", id, err)
		}
	}

	id, ok, err = e.ledger.FindBoardByOldName(ctx, project.ID, seg)
	if err != nil {
		if fatal(err) {
			return store.Board{}, false, false, err
		}
		log.Printf("resolve: name history %s %q: %v", project.ID, seg, err)
	} else if ok {
		board, err := e.store.GetBoard(ctx, id)
		if err == nil && board.ProjectID == project.ID {
			return board, board.Name != seg, true, nil
		}
		if err != nil && fatal(err) {
			return store.Board{}, false, false, err
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			log.Printf("resolve: board %s: %v", id, err)
		}
	}

	return store.Board{}, false, false, nil
}

// CreateBoard is the lazy-creation terminal step. The requested title
// goes through UniqueName because the board chain's miss may itself be
// stale. Creation uses the same atomic path as an explicit create.
func (e *Engine) CreateBoard(ctx context.Context, projectID, requestedTitle, actorID string) (store.Board, error) {
	if actorID == "" {
		return store.Board{}, ErrNoActor
	}
	title, err := UniqueName(ctx, e.TitleProber(projectID), requestedTitle, "")
	if err != nil {
		return store.Board{}, fmt.Errorf("unique title: %w", err)
	}
	board := store.Board{
		ID:        util.NewID("brd"),
		ProjectID: projectID,
		Name:      title,
		CreatedBy: actorID,
	}
	if err := e.store.CreateBoard(ctx, board, normalize.IndexKey(title)); err != nil {
		return store.Board{}, fmt.Errorf("create board: %w", err)
	}
	e.titles.Prime(ctx, projectID, title, board.ID)
	return board, nil
}

// TitleProber probes board names within a project with the strict
// stale-hit handling every duplicate check uses.
func (e *Engine) TitleProber(projectID string) Prober {
	return func(ctx context.Context, name string) (string, bool, error) {
		id, ok, err := e.titles.Get(ctx, projectID, name)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		board, err := e.store.GetBoard(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if board.ProjectID != projectID || !keysMatch(board.Name, name) {
			return "", false, nil
		}
		return board.ID, true, nil
	}
}

// SlugProber probes project slugs globally.
func (e *Engine) SlugProber() Prober {
	return func(ctx context.Context, name string) (string, bool, error) {
		id, ok, err := e.slugs.Get(ctx, "", name)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		project, err := e.store.GetProject(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if !keysMatch(project.Slug, name) {
			return "", false, nil
		}
		return project.ID, true, nil
	}
}

// keysMatch confirms a normalized-key hit against an entity's exact
// stored name: the live name must still occupy the requested key.
func keysMatch(stored, requested string) bool {
	return normalize.Key(stored) == normalize.Key(requested)
}

func fatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
