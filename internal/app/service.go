package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard/api/internal/auth"
	"corkboard/api/internal/config"
	"corkboard/api/internal/history"
	"corkboard/api/internal/index"
	"corkboard/api/internal/normalize"
	"corkboard/api/internal/resolve"
	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

// Store is the persistent surface the service needs. *store.PostgresStore
// satisfies it; tests substitute func-field fakes.
type Store interface {
	Ping(ctx context.Context) error
	EnsureActorByName(ctx context.Context, name string) (store.Actor, error)
	GetActor(ctx context.Context, actorID string) (store.Actor, error)

	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	CreateProject(ctx context.Context, item store.Project, slugKey string) error
	RenameProject(ctx context.Context, projectID, newSlug, newName, oldKey, newKey string) error

	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListBoardsByProject(ctx context.Context, projectID string) ([]store.Board, error)
	CreateBoard(ctx context.Context, item store.Board, titleKey string) error
	RenameBoard(ctx context.Context, boardID, projectID, newName, oldKey, newKey string) error

	AppendSlugHistory(ctx context.Context, projectID, oldSlug, newSlug string) error
	AppendNameHistory(ctx context.Context, boardID, projectID, oldName, newName string) error
	FindProjectIDByOldSlug(ctx context.Context, oldSlug string) (string, bool, error)
	FindBoardIDByOldName(ctx context.Context, projectID, oldName string) (string, bool, error)
	ListSlugHistory(ctx context.Context, projectID string) ([]store.SlugHistoryRecord, error)
	ListNameHistory(ctx context.Context, boardID string) ([]store.NameHistoryRecord, error)
}

type Session struct {
	Token     string
	ActorID   string
	ActorName string
	ExpiresAt time.Time
}

type Service struct {
	cfg    config.Config
	store  Store
	slugs  *index.Store
	titles *index.Store
	ledger *history.Ledger
	engine *resolve.Engine
	router *Router
	rdb    *redis.Client
}

func New(cfg config.Config, st Store, slugs, titles *index.Store, rdb *redis.Client) *Service {
	ledger := history.NewLedger(st)
	engine := resolve.New(st, slugs, titles, ledger)
	return &Service{
		cfg:    cfg,
		store:  st,
		slugs:  slugs,
		titles: titles,
		ledger: ledger,
		engine: engine,
		router: NewRouter(engine),
		rdb:    rdb,
	}
}

func (s *Service) Login(ctx context.Context, displayName string) (Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Session{}, domainError(http.StatusBadRequest, "name_required", "display name is required", nil)
	}
	actor, err := s.store.EnsureActorByName(ctx, displayName)
	if err != nil {
		return Session{}, fmt.Errorf("ensure actor: %w", err)
	}
	expires := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  actor.ID,
		Name: actor.DisplayName,
		Exp:  expires.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, ActorID: actor.ID, ActorName: actor.DisplayName, ExpiresAt: expires}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ActorID:   claims.Sub,
		ActorName: claims.Name,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// CreateProject picks a free slug near the requested one, writes the
// entity and its index row atomically, and primes the cache so the
// creator resolves their own project immediately.
func (s *Service) CreateProject(ctx context.Context, actorID, name, slug string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, domainError(http.StatusBadRequest, "name_required", "project name is required", nil)
	}
	if slug = strings.TrimSpace(slug); slug == "" {
		slug = name
	}
	slug, err := resolve.UniqueName(ctx, s.engine.SlugProber(), slug, "")
	if err != nil {
		return store.Project{}, fmt.Errorf("unique slug: %w", err)
	}
	item := store.Project{
		ID:        util.NewID("prj"),
		Slug:      slug,
		Name:      name,
		CreatedBy: actorID,
	}
	if err := s.store.CreateProject(ctx, item, normalize.IndexKey(slug)); err != nil {
		return store.Project{}, fmt.Errorf("create project: %w", err)
	}
	s.slugs.Prime(ctx, "", slug, item.ID)
	return s.store.GetProject(ctx, item.ID)
}

// RenameProject swaps the index row transactionally, refreshes the
// cache so the writer never sees the stale slug, and records the old
// slug in the ledger so stale links keep resolving.
func (s *Service) RenameProject(ctx context.Context, projectID, newSlug, newName string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if newSlug = strings.TrimSpace(newSlug); newSlug == "" {
		newSlug = project.Slug
	}
	if newName = strings.TrimSpace(newName); newName == "" {
		newName = project.Name
	}
	newSlug, err = resolve.UniqueName(ctx, s.engine.SlugProber(), newSlug, project.ID)
	if err != nil {
		return store.Project{}, fmt.Errorf("unique slug: %w", err)
	}
	if newSlug == project.Slug && newName == project.Name {
		return project, nil
	}
	oldSlug := project.Slug
	if err := s.store.RenameProject(ctx, project.ID, newSlug, newName,
		normalize.IndexKey(oldSlug), normalize.IndexKey(newSlug)); err != nil {
		return store.Project{}, fmt.Errorf("rename project: %w", err)
	}
	if newSlug != oldSlug {
		s.slugs.Rename(ctx, "", oldSlug, newSlug, project.ID)
		s.ledger.RecordSlugChange(ctx, project.ID, oldSlug, newSlug)
	}
	return s.store.GetProject(ctx, project.ID)
}

// CreateBoard shares the lazy-creation path so explicit and implicit
// creation behave identically.
func (s *Service) CreateBoard(ctx context.Context, actorID, projectID, title string) (store.Board, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return store.Board{}, err
	}
	return s.engine.CreateBoard(ctx, projectID, strings.TrimSpace(title), actorID)
}

func (s *Service) RenameBoard(ctx context.Context, boardID, newName string) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		newName = normalize.DefaultBaseName
	}
	newName, err = resolve.UniqueName(ctx, s.engine.TitleProber(board.ProjectID), newName, board.ID)
	if err != nil {
		return store.Board{}, fmt.Errorf("unique title: %w", err)
	}
	if newName == board.Name {
		return board, nil
	}
	oldName := board.Name
	if err := s.store.RenameBoard(ctx, board.ID, board.ProjectID, newName,
		normalize.IndexKey(oldName), normalize.IndexKey(newName)); err != nil {
		return store.Board{}, fmt.Errorf("rename board: %w", err)
	}
	s.titles.Rename(ctx, board.ProjectID, oldName, newName, board.ID)
	s.ledger.RecordNameChange(ctx, board.ID, board.ProjectID, oldName, newName)
	return s.store.GetBoard(ctx, board.ID)
}

func (s *Service) Navigate(ctx context.Context, path, actorID string) (Navigation, error) {
	return s.router.Navigate(ctx, path, actorID)
}

func (s *Service) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) GetBoard(ctx context.Context, boardID string) (store.Board, error) {
	return s.store.GetBoard(ctx, boardID)
}

func (s *Service) ListBoards(ctx context.Context, projectID string) ([]store.Board, error) {
	return s.store.ListBoardsByProject(ctx, projectID)
}

func (s *Service) ListSlugHistory(ctx context.Context, projectID string) ([]store.SlugHistoryRecord, error) {
	return s.store.ListSlugHistory(ctx, projectID)
}

func (s *Service) ListNameHistory(ctx context.Context, boardID string) ([]store.NameHistoryRecord, error) {
	return s.store.ListNameHistory(ctx, boardID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RedisPing reports the shared cache tier's health; a disabled tier is
// healthy by definition.
func (s *Service) RedisPing(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}
