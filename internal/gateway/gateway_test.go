package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vibecode/vibecode/internal/localstore"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
)

var errUnreachable = errors.New("connection refused")

// fakeRemote is an in-memory remote store. Setting fail makes every call
// fail; hook, when set, runs inside SaveState before the write is applied.
type fakeRemote struct {
	mu       sync.Mutex
	fail     error
	hook     func(req *protocol.SaveStateRequest)
	projects map[string]models.ProjectMetadata
	states   map[string]*protocol.SaveStateRequest
	chats    map[string][]models.ChatMessage
	saves    []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		projects: make(map[string]models.ProjectMetadata),
		states:   make(map[string]*protocol.SaveStateRequest),
		chats:    make(map[string][]models.ChatMessage),
	}
}

func (f *fakeRemote) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeRemote) ListProjects(ctx context.Context) ([]models.ProjectMetadata, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ProjectMetadata{}
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, id, name string, description *string) (*models.ProjectMetadata, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	p := models.ProjectMetadata{ID: id, Name: name, Description: description, CreatedAt: now, LastOpened: now}
	f.projects[id] = p
	return &p, nil
}

func (f *fakeRemote) DeleteProject(ctx context.Context, id string) error {
	if err := f.err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	delete(f.states, id)
	delete(f.chats, id)
	return nil
}

func (f *fakeRemote) SaveState(ctx context.Context, id string, req *protocol.SaveStateRequest) error {
	if err := f.err(); err != nil {
		return err
	}
	if f.hook != nil {
		f.hook(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = req
	f.saves = append(f.saves, marker(req))
	return nil
}

func (f *fakeRemote) LoadState(ctx context.Context, id string) (*protocol.StateResponse, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.states[id]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return &protocol.StateResponse{
		RootNodes:      req.RootNodes,
		KnowledgeBase:  req.KnowledgeBase,
		ClipboardItems: req.ClipboardItems,
	}, nil
}

func (f *fakeRemote) SaveChat(ctx context.Context, id string, messages []models.ChatMessage) (int, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[id] = append(f.chats[id], messages...)
	return len(messages), nil
}

func (f *fakeRemote) LoadChat(ctx context.Context, id string) ([]models.ChatMessage, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessage{}, f.chats[id]...), nil
}

func (f *fakeRemote) saved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saves...)
}

func (f *fakeRemote) state(id string) *protocol.SaveStateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

// brokenLocal fails every call.
type brokenLocal struct{}

var errDisk = errors.New("disk full")

func (brokenLocal) SaveProject(context.Context, models.ProjectMetadata) error { return errDisk }
func (brokenLocal) ListProjects(context.Context) ([]models.ProjectMetadata, error) {
	return nil, errDisk
}
func (brokenLocal) DeleteProject(context.Context, string) error { return errDisk }
func (brokenLocal) SaveState(context.Context, string, *protocol.SaveStateRequest) error {
	return errDisk
}
func (brokenLocal) LoadState(context.Context, string) (*protocol.StateResponse, error) {
	return nil, errDisk
}
func (brokenLocal) SaveChat(context.Context, string, []models.ChatMessage) (int, error) {
	return 0, errDisk
}
func (brokenLocal) LoadChat(context.Context, string) ([]models.ChatMessage, error) {
	return nil, errDisk
}

func marker(req *protocol.SaveStateRequest) string {
	if req.ActiveFileID == nil {
		return ""
	}
	return *req.ActiveFileID
}

// snap builds a one-file snapshot tagged with name.
func snap(name string) Snapshot {
	return Snapshot{
		RootNodes:    []*models.FileNode{models.NewFile(name, name, name, models.StringPtr(name))},
		ActiveFileID: models.StringPtr(name),
	}
}

func openLocal(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveState_RemoteFirst(t *testing.T) {
	remote := newFakeRemote()
	local := openLocal(t)
	gw := New(remote, local)
	ctx := context.Background()

	if got := gw.SaveState(ctx, "p", snap("a")); got != OutcomeRemote {
		t.Fatalf("outcome = %v, want remote", got)
	}
	if _, err := local.LoadState(ctx, "p"); !errors.Is(err, localstore.ErrNotFound) {
		t.Errorf("local store written on remote success: %v", err)
	}

	state, err := gw.LoadState(ctx, "p")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Source != OutcomeRemote || len(state.RootNodes) != 1 || state.RootNodes[0].Name != "a" {
		t.Errorf("state = %+v", state)
	}
}

func TestSaveState_FallsBackToLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail(errUnreachable)
	local := openLocal(t)
	gw := New(remote, local)
	ctx := context.Background()

	if got := gw.SaveState(ctx, "p", snap("a")); got != OutcomeLocal {
		t.Fatalf("outcome = %v, want local", got)
	}

	// Remote still down: the load comes from the local store.
	state, err := gw.LoadState(ctx, "p")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Source != OutcomeLocal || state.RootNodes[0].Name != "a" {
		t.Errorf("state = %+v", state)
	}
	if state.ActiveFileID == nil || *state.ActiveFileID != "a" {
		t.Errorf("active file = %v", state.ActiveFileID)
	}
}

func TestFallback_Logged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer logging.Replace(zap.New(core))()

	remote := newFakeRemote()
	remote.setFail(errUnreachable)
	gw := New(remote, brokenLocal{})
	gw.SaveState(context.Background(), "p1", snap("a"))

	warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("operation", "save_state")).All()
	if len(warns) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(warns))
	}
	if warns[0].ContextMap()["project_id"] != "p1" {
		t.Errorf("fields = %v", warns[0].ContextMap())
	}
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 1 {
		t.Errorf("error entries = %d, want 1", n)
	}
}

func TestSaveState_BothFail(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail(errUnreachable)
	gw := New(remote, brokenLocal{})

	if got := gw.SaveState(context.Background(), "p", snap("a")); got != OutcomeNone {
		t.Errorf("outcome = %v, want none", got)
	}
	if got := gw.SaveChat(context.Background(), "p", []models.ChatMessage{{ID: "m"}}); got != OutcomeNone {
		t.Errorf("chat outcome = %v, want none", got)
	}
}

func TestRemoteTimeout_FallsBack(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.hook = func(*protocol.SaveStateRequest) { <-release }
	defer close(release)

	// The hook ignores the context, so the remote write still lands later;
	// the caller only sees that it did not finish in time.
	blocking := &ctxRemote{fakeRemote: remote}
	gw := New(blocking, openLocal(t), WithRemoteTimeout(20*time.Millisecond))

	if got := gw.SaveState(context.Background(), "p", snap("a")); got != OutcomeLocal {
		t.Errorf("outcome = %v, want local", got)
	}
}

func TestRemoteTimeout_LocalGetsItsOwnDeadline(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.hook = func(*protocol.SaveStateRequest) { <-release }
	defer close(release)

	local := openLocal(t)
	gw := New(&ctxRemote{fakeRemote: remote}, local, WithRemoteTimeout(50*time.Millisecond))

	// The caller's deadline is the same as the remote's, so it has passed
	// by the time the local attempt starts.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if got := gw.SaveState(ctx, "p", snap("a")); got != OutcomeLocal {
		t.Fatalf("outcome = %v, want local", got)
	}
	if _, err := local.LoadState(context.Background(), "p"); err != nil {
		t.Errorf("local store has no state: %v", err)
	}
}

func TestWriter_HungRemoteSavesLocally(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.hook = func(*protocol.SaveStateRequest) { <-release }
	defer close(release)

	local := openLocal(t)
	gw := New(&ctxRemote{fakeRemote: remote}, local, WithRemoteTimeout(100*time.Millisecond))

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	w := NewWriter(gw, WriterConfig{
		Timeout: 100 * time.Millisecond,
		OnWrite: func(r WriteResult) {
			mu.Lock()
			outcomes = append(outcomes, r.Outcome)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	if err := w.SubmitState("p", snap("a")); err != nil {
		t.Fatalf("SubmitState: %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	got := append([]Outcome(nil), outcomes...)
	mu.Unlock()
	if len(got) != 1 || got[0] != OutcomeLocal {
		t.Errorf("outcomes = %v, want [local]", got)
	}
	resp, err := local.LoadState(ctx, "p")
	if err != nil {
		t.Fatalf("local LoadState: %v", err)
	}
	if resp.ActiveFileID == nil || *resp.ActiveFileID != "a" {
		t.Errorf("active file = %v", resp.ActiveFileID)
	}
}

// ctxRemote returns as soon as the context is done.
type ctxRemote struct {
	*fakeRemote
}

func (c *ctxRemote) SaveState(ctx context.Context, id string, req *protocol.SaveStateRequest) error {
	done := make(chan error, 1)
	go func() { done <- c.fakeRemote.SaveState(ctx, id, req) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestOffline(t *testing.T) {
	local := openLocal(t)
	gw := New(nil, local)
	ctx := context.Background()

	if gw.Online() {
		t.Error("Online() = true without a remote")
	}
	p, outcome, err := gw.CreateProject(ctx, "  Shop  ", nil)
	if err != nil || outcome != OutcomeLocal {
		t.Fatalf("CreateProject = %v, %v", outcome, err)
	}
	if p.Name != "Shop" || p.ID == "" {
		t.Errorf("project = %+v", p)
	}

	if got := gw.SaveState(ctx, p.ID, snap("a")); got != OutcomeLocal {
		t.Errorf("SaveState outcome = %v", got)
	}
	if got := gw.SaveChat(ctx, p.ID, []models.ChatMessage{{ID: "m", Role: models.RoleUser, Text: "hi"}}); got != OutcomeLocal {
		t.Errorf("SaveChat outcome = %v", got)
	}
	msgs, err := gw.LoadChat(ctx, p.ID)
	if err != nil || len(msgs) != 1 {
		t.Errorf("LoadChat = %v, %v", msgs, err)
	}

	list, err := gw.ListProjects(ctx)
	if err != nil || len(list) != 1 || list[0].ID != p.ID {
		t.Errorf("ListProjects = %+v, %v", list, err)
	}

	if outcome, err := gw.DeleteProject(ctx, p.ID); err != nil || outcome != OutcomeLocal {
		t.Errorf("DeleteProject = %v, %v", outcome, err)
	}
	if _, err := gw.LoadState(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadState after delete: %v", err)
	}
	if _, err := gw.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestCreateProject_Validation(t *testing.T) {
	gw := New(newFakeRemote(), openLocal(t))
	if _, _, err := gw.CreateProject(context.Background(), "   ", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestListProjects_MirrorsRemote(t *testing.T) {
	remote := newFakeRemote()
	local := openLocal(t)
	gw := New(remote, local)
	ctx := context.Background()

	p, outcome, err := gw.CreateProject(ctx, "Remote", nil)
	if err != nil || outcome != OutcomeRemote {
		t.Fatalf("CreateProject = %v, %v", outcome, err)
	}
	if _, err := gw.ListProjects(ctx); err != nil {
		t.Fatalf("ListProjects: %v", err)
	}

	// The server goes away; the registry still lists the project.
	remote.setFail(errUnreachable)
	list, err := gw.ListProjects(ctx)
	if err != nil || len(list) != 1 || list[0].ID != p.ID {
		t.Errorf("offline list = %+v, %v", list, err)
	}

	// A remote delete drops the mirror too.
	remote.setFail(nil)
	if outcome, err := gw.DeleteProject(ctx, p.ID); err != nil || outcome != OutcomeRemote {
		t.Fatalf("DeleteProject = %v, %v", outcome, err)
	}
	local2, _ := local.ListProjects(ctx)
	if len(local2) != 0 {
		t.Errorf("local mirror kept: %+v", local2)
	}
}

func TestSnapshot_NilKnowledgeKeepsStored(t *testing.T) {
	local := openLocal(t)
	gw := New(nil, local)
	ctx := context.Background()

	first := snap("a")
	first.Knowledge = []models.KnowledgeEntry{{ID: "k", Title: "Goal", Content: "Ship", Category: models.CategoryGeneral}}
	first.Clipboard = []models.ClipboardItem{{ID: "c", Content: "idea"}}
	gw.SaveState(ctx, "p", first)
	gw.SaveState(ctx, "p", snap("b"))

	state, err := gw.LoadState(ctx, "p")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(state.Knowledge) != 1 || state.Knowledge[0].Title != "Goal" {
		t.Errorf("knowledge = %+v", state.Knowledge)
	}
	if len(state.Clipboard) != 1 {
		t.Errorf("clipboard = %+v", state.Clipboard)
	}

	cleared := snap("c")
	cleared.Knowledge = []models.KnowledgeEntry{}
	cleared.Clipboard = []models.ClipboardItem{}
	gw.SaveState(ctx, "p", cleared)
	state, _ = gw.LoadState(ctx, "p")
	if len(state.Knowledge) != 0 || len(state.Clipboard) != 0 {
		t.Errorf("not cleared: %+v", state)
	}
}

func TestFingerprint(t *testing.T) {
	if snap("a").Fingerprint() != snap("a").Fingerprint() {
		t.Error("equal snapshots hash differently")
	}
	if snap("a").Fingerprint() == snap("b").Fingerprint() {
		t.Error("different snapshots hash equal")
	}
}

// Two direct saves race: the one whose response lands last wins, even
// though it was issued first.
func TestSaveState_DirectCallsLastResponseWins(t *testing.T) {
	remote := newFakeRemote()
	gates := map[string]chan struct{}{
		"A": make(chan struct{}),
		"B": make(chan struct{}),
	}
	remote.hook = func(req *protocol.SaveStateRequest) { <-gates[marker(req)] }
	gw := New(remote, openLocal(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	doneB := make(chan struct{})
	go func() {
		defer wg.Done()
		gw.SaveState(ctx, "p", snap("A"))
	}()
	go func() {
		defer wg.Done()
		defer close(doneB)
		gw.SaveState(ctx, "p", snap("B"))
	}()

	close(gates["B"])
	<-doneB
	close(gates["A"])
	wg.Wait()

	if got := marker(remote.state("p")); got != "A" {
		t.Errorf("persisted %q, want A", got)
	}
}

func TestWriter_LastSubmittedWins(t *testing.T) {
	remote := newFakeRemote()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	remote.hook = func(req *protocol.SaveStateRequest) {
		if marker(req) == "A" {
			started <- struct{}{}
			<-release
		}
	}
	gw := New(remote, openLocal(t))

	var mu sync.Mutex
	var results []WriteResult
	w := NewWriter(gw, WriterConfig{OnWrite: func(r WriteResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}})

	if err := w.SubmitState("p", snap("A")); err != nil {
		t.Fatalf("SubmitState: %v", err)
	}
	<-started
	w.SubmitState("p", snap("B"))
	w.SubmitState("p", snap("C"))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	saves := remote.saved()
	if len(saves) != 2 || saves[0] != "A" || saves[1] != "C" {
		t.Errorf("remote saw %v, want [A C]", saves)
	}
	if got := marker(remote.state("p")); got != "C" {
		t.Errorf("persisted %q, want C", got)
	}
	mu.Lock()
	if len(results) != 2 || results[1].Outcome != OutcomeRemote || results[1].Kind != KindState {
		t.Errorf("results = %+v", results)
	}
	mu.Unlock()
}

func TestWriter_SkipsUnchanged(t *testing.T) {
	remote := newFakeRemote()
	w := NewWriter(New(remote, openLocal(t)), WriterConfig{})
	ctx := context.Background()

	w.SubmitState("p", snap("A"))
	w.Flush(ctx)
	w.SubmitState("p", snap("A"))
	w.Flush(ctx)
	w.SubmitState("p", snap("B"))
	w.Flush(ctx)

	if saves := remote.saved(); len(saves) != 2 {
		t.Errorf("remote saw %v, want [A B]", saves)
	}
}

func TestWriter_RetriesAfterFailedWrite(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail(errUnreachable)
	w := NewWriter(New(remote, brokenLocal{}), WriterConfig{})
	ctx := context.Background()

	w.SubmitState("p", snap("A"))
	w.Flush(ctx)
	remote.setFail(nil)
	w.SubmitState("p", snap("A"))
	w.Flush(ctx)

	if saves := remote.saved(); len(saves) != 1 || saves[0] != "A" {
		t.Errorf("remote saw %v, want [A]", saves)
	}
}

func TestWriter_ProjectsIndependent(t *testing.T) {
	remote := newFakeRemote()
	w := NewWriter(New(remote, openLocal(t)), WriterConfig{})

	w.SubmitState("p1", snap("A"))
	w.SubmitState("p2", snap("B"))
	w.SubmitChat("p1", []models.ChatMessage{{ID: "m", Text: "hi"}})
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if marker(remote.state("p1")) != "A" || marker(remote.state("p2")) != "B" {
		t.Errorf("states = %v, %v", remote.state("p1"), remote.state("p2"))
	}
	if msgs, _ := remote.LoadChat(context.Background(), "p1"); len(msgs) != 1 {
		t.Errorf("chat = %+v", msgs)
	}
	if err := w.SubmitState("p1", snap("C")); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close: %v", err)
	}
}
