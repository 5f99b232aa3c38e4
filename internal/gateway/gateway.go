// Package gateway routes persistence through the remote store first and the
// local embedded store when the remote fails or is not configured.
//
// Every operation runs ATTEMPT_REMOTE, then ATTEMPT_LOCAL on failure, then
// DONE. The two stores are never reconciled with each other.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/localstore"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
)

var (
	// ErrNotFound is returned when neither store has the project.
	ErrNotFound = errors.New("project not found")
	// ErrInvalid is returned for a project without a name.
	ErrInvalid = errors.New("invalid input")
)

// Remote is the network store.
type Remote interface {
	ListProjects(ctx context.Context) ([]models.ProjectMetadata, error)
	CreateProject(ctx context.Context, id, name string, description *string) (*models.ProjectMetadata, error)
	DeleteProject(ctx context.Context, id string) error
	SaveState(ctx context.Context, id string, req *protocol.SaveStateRequest) error
	LoadState(ctx context.Context, id string) (*protocol.StateResponse, error)
	SaveChat(ctx context.Context, id string, messages []models.ChatMessage) (int, error)
	LoadChat(ctx context.Context, id string) ([]models.ChatMessage, error)
}

// Local is the embedded fallback store. Its lookups report a miss with an
// error wrapping localstore.ErrNotFound.
type Local interface {
	SaveProject(ctx context.Context, p models.ProjectMetadata) error
	ListProjects(ctx context.Context) ([]models.ProjectMetadata, error)
	DeleteProject(ctx context.Context, id string) error
	SaveState(ctx context.Context, id string, req *protocol.SaveStateRequest) error
	LoadState(ctx context.Context, id string) (*protocol.StateResponse, error)
	SaveChat(ctx context.Context, id string, messages []models.ChatMessage) (int, error)
	LoadChat(ctx context.Context, id string) ([]models.ChatMessage, error)
}

// Outcome names the store that accepted a write or served a read.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeRemote
	OutcomeLocal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRemote:
		return "remote"
	case OutcomeLocal:
		return "local"
	default:
		return "none"
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRemoteTimeout bounds every remote call so a hung server hands over
// to the local store.
func WithRemoteTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.remoteTimeout = d }
}

// WithLocalTimeout bounds every local store call. The default is
// DefaultLocalTimeout.
func WithLocalTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.localTimeout = d }
}

// DefaultLocalTimeout bounds a local store call when no other limit is set.
const DefaultLocalTimeout = 10 * time.Second

// Gateway is the persistence entry point.
type Gateway struct {
	remote        Remote
	local         Local
	remoteTimeout time.Duration
	localTimeout  time.Duration
	now           func() time.Time
}

// New creates a gateway. remote may be nil, in which case every operation
// goes straight to the local store.
func New(remote Remote, local Local, opts ...Option) *Gateway {
	g := &Gateway{
		remote:       remote,
		local:        local,
		localTimeout: DefaultLocalTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Online reports whether a remote store is configured.
func (g *Gateway) Online() bool {
	return g.remote != nil
}

func (g *Gateway) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.remoteTimeout > 0 {
		return context.WithTimeout(ctx, g.remoteTimeout)
	}
	return context.WithCancel(ctx)
}

// localCtx detaches the local attempt from the caller's deadline, which a
// hung remote may already have spent, and gives it its own.
func (g *Gateway) localCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if g.localTimeout > 0 {
		return context.WithTimeout(ctx, g.localTimeout)
	}
	return context.WithCancel(ctx)
}

func (g *Gateway) fallback(op, projectID string, err error) {
	metrics.RecordFallback(op)
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if projectID != "" {
		fields = append(fields, logging.Project(projectID))
	}
	logging.Warn("remote store failed, using local store", fields...)
}

func (g *Gateway) isLocalNotFound(err error) bool {
	return errors.Is(err, localstore.ErrNotFound)
}

// SaveState persists a snapshot and reports which store accepted it. It
// never returns an error: a failure of both stores is logged and reported
// as OutcomeNone.
func (g *Gateway) SaveState(ctx context.Context, projectID string, snap Snapshot) Outcome {
	req := snap.Request()

	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		err := g.remote.SaveState(rctx, projectID, req)
		cancel()
		if err == nil {
			return OutcomeRemote
		}
		g.fallback("save_state", projectID, err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	if err := g.local.SaveState(lctx, projectID, req); err != nil {
		logging.Error("local state save failed", logging.Project(projectID), zap.Error(err))
		return OutcomeNone
	}
	return OutcomeLocal
}

// LoadState loads a project from the first store that has it.
func (g *Gateway) LoadState(ctx context.Context, projectID string) (*State, error) {
	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		resp, err := g.remote.LoadState(rctx, projectID)
		cancel()
		if err == nil {
			return stateFrom(resp, OutcomeRemote), nil
		}
		g.fallback("load_state", projectID, err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	resp, err := g.local.LoadState(lctx, projectID)
	if err != nil {
		if g.isLocalNotFound(err) {
			return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return stateFrom(resp, OutcomeLocal), nil
}

// SaveChat appends messages and reports which store accepted them.
func (g *Gateway) SaveChat(ctx context.Context, projectID string, messages []models.ChatMessage) Outcome {
	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		_, err := g.remote.SaveChat(rctx, projectID, messages)
		cancel()
		if err == nil {
			return OutcomeRemote
		}
		g.fallback("save_chat", projectID, err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	if _, err := g.local.SaveChat(lctx, projectID, messages); err != nil {
		logging.Error("local chat save failed", logging.Project(projectID), zap.Error(err))
		return OutcomeNone
	}
	return OutcomeLocal
}

// LoadChat loads a project's chat log.
func (g *Gateway) LoadChat(ctx context.Context, projectID string) ([]models.ChatMessage, error) {
	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		msgs, err := g.remote.LoadChat(rctx, projectID)
		cancel()
		if err == nil {
			return msgs, nil
		}
		g.fallback("load_chat", projectID, err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	msgs, err := g.local.LoadChat(lctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	return msgs, nil
}

// ListProjects returns the project registry. A remote listing is mirrored
// into the local store so it stays available offline.
func (g *Gateway) ListProjects(ctx context.Context) ([]models.ProjectMetadata, error) {
	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		projects, err := g.remote.ListProjects(rctx)
		cancel()
		if err == nil {
			lctx, lcancel := g.localCtx(ctx)
			defer lcancel()
			for _, p := range projects {
				if err := g.local.SaveProject(lctx, p); err != nil {
					logging.Warn("mirroring project locally failed", logging.Project(p.ID), zap.Error(err))
				}
			}
			return projects, nil
		}
		g.fallback("list_projects", "", err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	projects, err := g.local.ListProjects(lctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// CreateProject registers a new project under a fresh id.
func (g *Gateway) CreateProject(ctx context.Context, name string, description *string) (*models.ProjectMetadata, Outcome, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, OutcomeNone, fmt.Errorf("project name is required: %w", ErrInvalid)
	}
	id := uuid.NewString()

	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		p, err := g.remote.CreateProject(rctx, id, name, description)
		cancel()
		if err == nil {
			lctx, lcancel := g.localCtx(ctx)
			defer lcancel()
			if err := g.local.SaveProject(lctx, *p); err != nil {
				logging.Warn("mirroring project locally failed", logging.Project(p.ID), zap.Error(err))
			}
			return p, OutcomeRemote, nil
		}
		g.fallback("create_project", id, err)
	}

	now := g.now().UTC()
	p := models.ProjectMetadata{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		LastOpened:  now,
	}
	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	if err := g.local.SaveProject(lctx, p); err != nil {
		return nil, OutcomeNone, fmt.Errorf("create project: %w", err)
	}
	return &p, OutcomeLocal, nil
}

// DeleteProject removes a project. After a remote delete the local mirror
// is dropped too.
func (g *Gateway) DeleteProject(ctx context.Context, projectID string) (Outcome, error) {
	if g.remote != nil {
		rctx, cancel := g.remoteCtx(ctx)
		err := g.remote.DeleteProject(rctx, projectID)
		cancel()
		if err == nil {
			lctx, lcancel := g.localCtx(ctx)
			defer lcancel()
			if err := g.local.DeleteProject(lctx, projectID); err != nil && !g.isLocalNotFound(err) {
				logging.Warn("dropping local mirror failed", logging.Project(projectID), zap.Error(err))
			}
			return OutcomeRemote, nil
		}
		g.fallback("delete_project", projectID, err)
	}

	lctx, lcancel := g.localCtx(ctx)
	defer lcancel()
	if err := g.local.DeleteProject(lctx, projectID); err != nil {
		if g.isLocalNotFound(err) {
			return OutcomeNone, fmt.Errorf("%s: %w", projectID, ErrNotFound)
		}
		return OutcomeNone, fmt.Errorf("delete project: %w", err)
	}
	return OutcomeLocal, nil
}
