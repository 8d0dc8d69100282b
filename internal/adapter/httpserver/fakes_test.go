package httpserver_test

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zimagehq/zimage/internal/adapter/httpserver"
	"github.com/zimagehq/zimage/internal/adapter/token"
	"github.com/zimagehq/zimage/internal/app"
	"github.com/zimagehq/zimage/internal/config"
	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/internal/usecase"
)

// fixture is an in-memory backend for one API under test.
type fixture struct {
	mu      sync.Mutex
	users   map[string]domain.User
	tasks   map[string]domain.GenerationTask
	inpaint map[string]domain.InpaintTask
	images  map[string]domain.Image
	history map[string]domain.EditHistory
	queued  []domain.TaskPayload
	qstate  map[string]domain.QueueState
	qresult map[string][]byte
	objects map[string][]byte
	kv      map[string][]byte
}

func newFixture() *fixture {
	return &fixture{
		users:   map[string]domain.User{},
		tasks:   map[string]domain.GenerationTask{},
		inpaint: map[string]domain.InpaintTask{},
		images:  map[string]domain.Image{},
		history: map[string]domain.EditHistory{},
		qstate:  map[string]domain.QueueState{},
		qresult: map[string][]byte{},
		objects: map[string][]byte{},
		kv:      map[string][]byte{},
	}
}

// newTestAPI builds the full router over in-memory fakes.
func newTestAPI() (http.Handler, *fixture) {
	fx := newFixture()
	cfg := config.Config{
		JWTSecret:        "test-secret",
		JWTAlgorithm:     "HS256",
		AccessTokenTTL:   30 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		RateLimitPerMin:  1000,
		ReadinessTimeout: time.Second,
	}
	iss := token.NewIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	users := &userRepo{fx: fx}
	tasks := &taskRepo{fx: fx}
	inpaints := &inpaintRepo{fx: fx}
	images := &imageRepo{fx: fx}
	history := &historyRepo{fx: fx}
	q := &queueFake{fx: fx}
	store := &storeFake{fx: fx}
	kv := &kvFake{fx: fx}

	auth := usecase.NewAuth(users, iss, 4)
	submit := usecase.NewSubmitter(tasks, inpaints, images, q, store)
	status := usecase.NewReconciler(tasks, inpaints, images, q)
	gallery := usecase.NewGallery(images, history, store)
	replay := usecase.NewReplayer(history, store, submit)
	stats := usecase.NewStats(images, tasks, kv)

	srv := httpserver.NewServer(cfg, auth, submit, status, gallery, replay, stats, nil, nil)
	return app.BuildRouter(cfg, srv), fx
}

type userRepo struct{ fx *fixture }

func (r *userRepo) Create(_ domain.Context, u domain.User) (string, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	for _, have := range r.fx.users {
		if have.Email == u.Email {
			return "", fmt.Errorf("users: %w", domain.ErrConflict)
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	r.fx.users[u.ID] = u
	return u.ID, nil
}

func (r *userRepo) GetByEmail(_ domain.Context, email string) (domain.User, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	for _, u := range r.fx.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *userRepo) GetByID(_ domain.Context, id string) (domain.User, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	u, ok := r.fx.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type taskRepo struct{ fx *fixture }

func (r *taskRepo) Create(_ domain.Context, t domain.GenerationTask) (string, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t.ID = uuid.NewString()
	t.Status = domain.TaskPending
	t.CreatedAt = time.Now()
	r.fx.tasks[t.ID] = t
	return t.ID, nil
}

func (r *taskRepo) Get(_ domain.Context, id string) (domain.GenerationTask, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t, ok := r.fx.tasks[id]
	if !ok {
		return domain.GenerationTask{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *taskRepo) SetQueueTaskID(_ domain.Context, id, queueTaskID string) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.tasks[id]
	t.QueueTaskID = queueTaskID
	r.fx.tasks[id] = t
	return nil
}

func (r *taskRepo) MarkProcessing(_ domain.Context, id string, at time.Time) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.tasks[id]
	if t.Status != domain.TaskPending {
		return nil
	}
	t.Status = domain.TaskProcessing
	if t.StartedAt == nil {
		t.StartedAt = &at
	}
	r.fx.tasks[id] = t
	return nil
}

func (r *taskRepo) Complete(_ domain.Context, id string, term domain.TaskTerminal, images []domain.Image, history []domain.EditHistory) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.tasks[id]
	if t.Status.Terminal() {
		return nil
	}
	t.Status = term.Status
	t.Error = term.Error
	t.Result = term.Result
	t.CompletedAt = &term.CompletedAt
	r.fx.tasks[id] = t
	for _, img := range images {
		if _, dup := r.fx.images[img.ID]; !dup {
			r.fx.images[img.ID] = img
		}
	}
	for _, h := range history {
		if _, dup := r.fx.history[h.ID]; !dup {
			r.fx.history[h.ID] = h
		}
	}
	return nil
}

func (r *taskRepo) CountAll(_ domain.Context) (int, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	return len(r.fx.tasks), nil
}

type inpaintRepo struct{ fx *fixture }

func (r *inpaintRepo) Create(_ domain.Context, t domain.InpaintTask) (string, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t.ID = uuid.NewString()
	t.Status = domain.TaskPending
	t.CreatedAt = time.Now()
	r.fx.inpaint[t.ID] = t
	return t.ID, nil
}

func (r *inpaintRepo) Get(_ domain.Context, id string) (domain.InpaintTask, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t, ok := r.fx.inpaint[id]
	if !ok {
		return domain.InpaintTask{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *inpaintRepo) SetQueueTaskID(_ domain.Context, id, queueTaskID string) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.inpaint[id]
	t.QueueTaskID = queueTaskID
	r.fx.inpaint[id] = t
	return nil
}

func (r *inpaintRepo) MarkProcessing(_ domain.Context, id string, at time.Time) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.inpaint[id]
	if t.Status != domain.TaskPending {
		return nil
	}
	t.Status = domain.TaskProcessing
	if t.StartedAt == nil {
		t.StartedAt = &at
	}
	r.fx.inpaint[id] = t
	return nil
}

func (r *inpaintRepo) Complete(_ domain.Context, id string, term domain.TaskTerminal, maskObjectName string, images []domain.Image, history []domain.EditHistory) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	t := r.fx.inpaint[id]
	if t.Status.Terminal() {
		return nil
	}
	t.Status = term.Status
	t.Error = term.Error
	t.Result = term.Result
	t.CompletedAt = &term.CompletedAt
	t.MaskObjectName = maskObjectName
	r.fx.inpaint[id] = t
	for _, img := range images {
		if _, dup := r.fx.images[img.ID]; !dup {
			r.fx.images[img.ID] = img
		}
	}
	for _, h := range history {
		if _, dup := r.fx.history[h.ID]; !dup {
			r.fx.history[h.ID] = h
		}
	}
	return nil
}

type imageRepo struct{ fx *fixture }

func (r *imageRepo) Get(_ domain.Context, id string) (domain.Image, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	img, ok := r.fx.images[id]
	if !ok {
		return domain.Image{}, domain.ErrNotFound
	}
	return img, nil
}

func (r *imageRepo) List(_ domain.Context, userID string, page, limit int, f domain.ImageFilter) (domain.ImagePage, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	var all []domain.Image
	for _, img := range r.fx.images {
		if img.UserID != userID {
			continue
		}
		if f.FavoritesOnly && !img.Favorite {
			continue
		}
		all = append(all, img)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	off := (page - 1) * limit
	if off > total {
		off = total
	}
	end := off + limit
	if end > total {
		end = total
	}
	return domain.ImagePage{Images: all[off:end], Total: total, Page: page, Limit: limit}, nil
}

func (r *imageRepo) ToggleFavorite(_ domain.Context, id, userID string) (domain.Image, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	img, ok := r.fx.images[id]
	if !ok || img.UserID != userID {
		return domain.Image{}, domain.ErrNotFound
	}
	img.Favorite = !img.Favorite
	r.fx.images[id] = img
	return img, nil
}

func (r *imageRepo) Delete(_ domain.Context, id, userID string) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	img, ok := r.fx.images[id]
	if !ok || img.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.fx.images, id)
	return nil
}

func (r *imageRepo) CountSince(_ domain.Context, since time.Time) (int, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	n := 0
	for _, img := range r.fx.images {
		if img.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *imageRepo) CountAll(_ domain.Context) (int, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	return len(r.fx.images), nil
}

type historyRepo struct{ fx *fixture }

func (r *historyRepo) Get(_ domain.Context, id, userID string) (domain.EditHistory, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	h, ok := r.fx.history[id]
	if !ok || h.UserID != userID {
		return domain.EditHistory{}, domain.ErrNotFound
	}
	return h, nil
}

func (r *historyRepo) List(_ domain.Context, userID string, page, pageSize int) (domain.HistoryPage, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	var all []domain.EditHistory
	for _, h := range r.fx.history {
		if h.UserID == userID {
			all = append(all, h)
		}
	}
	return domain.HistoryPage{Items: all, Total: len(all), Page: page, PageSize: pageSize}, nil
}

func (r *historyRepo) ListByImage(_ domain.Context, userID, imageID string, page, pageSize int) (domain.HistoryPage, error) {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	var all []domain.EditHistory
	for _, h := range r.fx.history {
		if h.UserID == userID && (h.OriginalImageID == imageID || h.EditedImageID == imageID) {
			all = append(all, h)
		}
	}
	return domain.HistoryPage{Items: all, Total: len(all), Page: page, PageSize: pageSize}, nil
}

func (r *historyRepo) Delete(_ domain.Context, id, userID string) error {
	r.fx.mu.Lock()
	defer r.fx.mu.Unlock()
	h, ok := r.fx.history[id]
	if !ok || h.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.fx.history, id)
	return nil
}

type queueFake struct{ fx *fixture }

func (q *queueFake) Enqueue(_ domain.Context, p domain.TaskPayload) (string, error) {
	q.fx.mu.Lock()
	defer q.fx.mu.Unlock()
	q.fx.queued = append(q.fx.queued, p)
	q.fx.qstate[p.TaskID] = domain.QueueStateQueued
	return p.TaskID, nil
}

func (q *queueFake) Inspect(_ domain.Context, handle string) (domain.QueueState, []byte, error) {
	q.fx.mu.Lock()
	defer q.fx.mu.Unlock()
	st, ok := q.fx.qstate[handle]
	if !ok {
		return domain.QueueStateUnknown, nil, nil
	}
	return st, q.fx.qresult[handle], nil
}

type storeFake struct{ fx *fixture }

func (s *storeFake) Put(_ domain.Context, name string, data []byte, _ string) error {
	s.fx.mu.Lock()
	defer s.fx.mu.Unlock()
	s.fx.objects[name] = data
	return nil
}

func (s *storeFake) Get(_ domain.Context, name string) ([]byte, error) {
	s.fx.mu.Lock()
	defer s.fx.mu.Unlock()
	b, ok := s.fx.objects[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *storeFake) Remove(_ domain.Context, name string) error {
	s.fx.mu.Lock()
	defer s.fx.mu.Unlock()
	delete(s.fx.objects, name)
	return nil
}

func (s *storeFake) ExternalURL(name string) string { return "http://public.example/" + name }
func (s *storeFake) InternalURL(name string) string { return "http://minio:9000/zimage-images/" + name }

type kvFake struct{ fx *fixture }

func (k *kvFake) Set(_ domain.Context, key string, value []byte, _ time.Duration) error {
	k.fx.mu.Lock()
	defer k.fx.mu.Unlock()
	k.fx.kv[key] = value
	return nil
}

func (k *kvFake) Get(_ domain.Context, key string) ([]byte, error) {
	k.fx.mu.Lock()
	defer k.fx.mu.Unlock()
	b, ok := k.fx.kv[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}
