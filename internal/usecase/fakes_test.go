package usecase

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zimagehq/zimage/internal/domain"
)

// memDB backs all fake repositories so cross-table behavior (Complete
// inserting images and history) mirrors the real transactional adapter.
type memDB struct {
	mu      sync.Mutex
	users   map[string]domain.User
	tasks   map[string]domain.GenerationTask
	inpaint map[string]domain.InpaintTask
	images  map[string]domain.Image
	history map[string]domain.EditHistory
}

func newMemDB() *memDB {
	return &memDB{
		users:   map[string]domain.User{},
		tasks:   map[string]domain.GenerationTask{},
		inpaint: map[string]domain.InpaintTask{},
		images:  map[string]domain.Image{},
		history: map[string]domain.EditHistory{},
	}
}

func (db *memDB) insertRows(images []domain.Image, history []domain.EditHistory) {
	for _, img := range images {
		if _, exists := db.images[img.ID]; !exists {
			db.images[img.ID] = img
		}
	}
	for _, h := range history {
		if _, exists := db.history[h.ID]; !exists {
			db.history[h.ID] = h
		}
	}
}

type fakeUserRepo struct{ db *memDB }

func (r *fakeUserRepo) Create(_ domain.Context, u domain.User) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.users {
		if existing.Email == u.Email {
			return "", fmt.Errorf("op=user.create: %w", domain.ErrConflict)
		}
	}
	u.ID = uuid.New().String()
	u.CreatedAt = time.Now().UTC()
	r.db.users[u.ID] = u
	return u.ID, nil
}

func (r *fakeUserRepo) GetByEmail(_ domain.Context, email string) (domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ domain.Context, id string) (domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type fakeTaskRepo struct{ db *memDB }

func (r *fakeTaskRepo) Create(_ domain.Context, t domain.GenerationTask) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Status = domain.TaskPending
	t.CreatedAt = time.Now().UTC()
	r.db.tasks[t.ID] = t
	return t.ID, nil
}

func (r *fakeTaskRepo) Get(_ domain.Context, id string) (domain.GenerationTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return domain.GenerationTask{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *fakeTaskRepo) SetQueueTaskID(_ domain.Context, id, handle string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.QueueTaskID = handle
	r.db.tasks[id] = t
	return nil
}

func (r *fakeTaskRepo) MarkProcessing(_ domain.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == domain.TaskPending {
		t.Status = domain.TaskProcessing
		if t.StartedAt == nil {
			at := at.UTC()
			t.StartedAt = &at
		}
		r.db.tasks[id] = t
	}
	return nil
}

func (r *fakeTaskRepo) Complete(_ domain.Context, id string, term domain.TaskTerminal, images []domain.Image, history []domain.EditHistory) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status.Terminal() {
		return nil
	}
	t.Status = term.Status
	t.Error = term.Error
	t.Result = term.Result
	completed := term.CompletedAt.UTC()
	t.CompletedAt = &completed
	r.db.tasks[id] = t
	r.db.insertRows(images, history)
	return nil
}

func (r *fakeTaskRepo) CountAll(_ domain.Context) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.tasks), nil
}

type fakeInpaintRepo struct{ db *memDB }

func (r *fakeInpaintRepo) Create(_ domain.Context, t domain.InpaintTask) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Status = domain.TaskPending
	t.CreatedAt = time.Now().UTC()
	r.db.inpaint[t.ID] = t
	return t.ID, nil
}

func (r *fakeInpaintRepo) Get(_ domain.Context, id string) (domain.InpaintTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.inpaint[id]
	if !ok {
		return domain.InpaintTask{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *fakeInpaintRepo) SetQueueTaskID(_ domain.Context, id, handle string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.inpaint[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.QueueTaskID = handle
	r.db.inpaint[id] = t
	return nil
}

func (r *fakeInpaintRepo) MarkProcessing(_ domain.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.inpaint[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == domain.TaskPending {
		t.Status = domain.TaskProcessing
		if t.StartedAt == nil {
			at := at.UTC()
			t.StartedAt = &at
		}
		r.db.inpaint[id] = t
	}
	return nil
}

func (r *fakeInpaintRepo) Complete(_ domain.Context, id string, term domain.TaskTerminal, maskObjectName string, images []domain.Image, history []domain.EditHistory) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.inpaint[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status.Terminal() {
		return nil
	}
	t.Status = term.Status
	t.Error = term.Error
	t.Result = term.Result
	t.MaskObjectName = maskObjectName
	completed := term.CompletedAt.UTC()
	t.CompletedAt = &completed
	r.db.inpaint[id] = t
	r.db.insertRows(images, history)
	return nil
}

type fakeImageRepo struct{ db *memDB }

func (r *fakeImageRepo) Get(_ domain.Context, id string) (domain.Image, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	img, ok := r.db.images[id]
	if !ok {
		return domain.Image{}, domain.ErrNotFound
	}
	return img, nil
}

func (r *fakeImageRepo) List(_ domain.Context, userID string, page, limit int, f domain.ImageFilter) (domain.ImagePage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := domain.ImagePage{Page: page, Limit: limit}
	for _, img := range r.db.images {
		if img.UserID != userID {
			continue
		}
		if f.FavoritesOnly && !img.Favorite {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(img.Prompt), strings.ToLower(f.Search)) {
			continue
		}
		out.Images = append(out.Images, img)
	}
	out.Total = len(out.Images)
	return out, nil
}

func (r *fakeImageRepo) ToggleFavorite(_ domain.Context, id, userID string) (domain.Image, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	img, ok := r.db.images[id]
	if !ok || img.UserID != userID {
		return domain.Image{}, domain.ErrNotFound
	}
	img.Favorite = !img.Favorite
	r.db.images[id] = img
	return img, nil
}

func (r *fakeImageRepo) Delete(_ domain.Context, id, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	img, ok := r.db.images[id]
	if !ok || img.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.db.images, id)
	return nil
}

func (r *fakeImageRepo) CountSince(_ domain.Context, since time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, img := range r.db.images {
		if !img.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeImageRepo) CountAll(_ domain.Context) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.images), nil
}

type fakeHistoryRepo struct{ db *memDB }

func (r *fakeHistoryRepo) Get(_ domain.Context, id, userID string) (domain.EditHistory, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	h, ok := r.db.history[id]
	if !ok || h.UserID != userID {
		return domain.EditHistory{}, domain.ErrNotFound
	}
	return h, nil
}

func (r *fakeHistoryRepo) List(_ domain.Context, userID string, page, pageSize int) (domain.HistoryPage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := domain.HistoryPage{Page: page, PageSize: pageSize}
	for _, h := range r.db.history {
		if h.UserID == userID {
			out.Items = append(out.Items, h)
		}
	}
	out.Total = len(out.Items)
	return out, nil
}

func (r *fakeHistoryRepo) ListByImage(_ domain.Context, userID, imageID string, page, pageSize int) (domain.HistoryPage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := domain.HistoryPage{Page: page, PageSize: pageSize}
	for _, h := range r.db.history {
		if h.UserID == userID && (h.OriginalImageID == imageID || h.EditedImageID == imageID) {
			out.Items = append(out.Items, h)
		}
	}
	out.Total = len(out.Items)
	return out, nil
}

func (r *fakeHistoryRepo) Delete(_ domain.Context, id, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	h, ok := r.db.history[id]
	if !ok || h.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.db.history, id)
	return nil
}

// fakeQueue records enqueued payloads and serves scripted inspect responses.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.TaskPayload
	state    map[string]domain.QueueState
	results  map[string][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{state: map[string]domain.QueueState{}, results: map[string][]byte{}}
}

func (q *fakeQueue) Enqueue(_ domain.Context, p domain.TaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, prev := range q.enqueued {
		if prev.TaskID == p.TaskID {
			return p.TaskID, nil
		}
	}
	q.enqueued = append(q.enqueued, p)
	q.state[p.TaskID] = domain.QueueStateQueued
	return p.TaskID, nil
}

func (q *fakeQueue) Inspect(_ domain.Context, handle string) (domain.QueueState, []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.state[handle]
	if !ok {
		return domain.QueueStateUnknown, nil, nil
	}
	return st, q.results[handle], nil
}

func (q *fakeQueue) setCompleted(handle string, result []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state[handle] = domain.QueueStateCompleted
	q.results[handle] = result
}

func (q *fakeQueue) setActive(handle string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state[handle] = domain.QueueStateActive
}

type fakeObjStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjStore() *fakeObjStore { return &fakeObjStore{objects: map[string][]byte{}} }

func (s *fakeObjStore) Put(_ domain.Context, name string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
	return nil
}

func (s *fakeObjStore) Get(_ domain.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeObjStore) Remove(_ domain.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

func (s *fakeObjStore) ExternalURL(name string) string { return "http://public.example/" + name }
func (s *fakeObjStore) InternalURL(name string) string { return "http://minio:9000/" + name }

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string][]byte{}} }

func (c *fakeKV) Set(_ domain.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeKV) Get(_ domain.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}
