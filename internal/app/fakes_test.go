package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"docqa/internal/model"
	"docqa/internal/platform/rabbitmq"
	"docqa/internal/repository"
)

type memDocs struct {
	mu     sync.Mutex
	byFile map[string]model.Document
	order  []string
	err    error
}

func newMemDocs() *memDocs {
	return &memDocs{byFile: make(map[string]model.Document)}
}

func (m *memDocs) Create(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byFile[doc.File]; ok {
		return repository.ErrDuplicate
	}
	m.byFile[doc.File] = *doc
	m.order = append(m.order, doc.File)
	return nil
}

func (m *memDocs) GetByFile(_ context.Context, file string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.byFile[file]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (m *memDocs) ExistsByFile(ctx context.Context, file string) (bool, error) {
	doc, err := m.GetByFile(ctx, file)
	return doc != nil, err
}

func (m *memDocs) ListByRoom(_ context.Context, roomID string) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Document
	for _, f := range m.order {
		if doc := m.byFile[f]; slices.Contains(doc.RoomIDs, roomID) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memDocs) UpdateStatus(_ context.Context, file, status string, chunkCount int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.byFile[file]
	if !ok {
		return errors.New("no such document")
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.LastError = lastErr
	m.byFile[file] = doc
	return nil
}

func (m *memDocs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byFile)
}

type memUsers struct {
	mu     sync.Mutex
	byID   map[uint]*model.User
	nextID uint
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[uint]*model.User)}
}

func (m *memUsers) add(username string, roles ...string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &model.User{ID: m.nextID, Username: username, Email: username + "@example.com", Roles: roles}
	m.byID[u.ID] = u
	return u
}

func (m *memUsers) Create(user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	m.byID[user.ID] = user
	return nil
}

func (m *memUsers) find(match func(*model.User) bool) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			return u
		}
	}
	return nil
}

func (m *memUsers) GetByUsername(username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (m *memUsers) GetByEmail(email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (m *memUsers) GetByID(id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memUsers) GetRoles(_ context.Context, id uint) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u.Roles, nil
	}
	return nil, nil
}

func (m *memUsers) UpdateRoles(_ context.Context, id uint, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.Roles = roles
	}
	return nil
}

// hashEmbedder embeds text as letter frequencies plus a constant component.
type hashEmbedder struct {
	fail bool
}

func (e hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	v := make([]float32, 27)
	v[26] = 0.1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func (e hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type echoGenerator struct {
	err error
}

func (g echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if strings.Contains(prompt, "Standalone question:") {
		return "standalone follow up", nil
	}
	return "This document is about project Apollo.", nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []rabbitmq.IndexJob
	err  error
}

func (p *recordingPublisher) PublishIndexJob(_ context.Context, job rabbitmq.IndexJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

// racingDocs holds every ExistsByFile call until n callers have asked, so
// concurrent uploads of one name all pass the pre-check.
type racingDocs struct {
	*memDocs
	arrived sync.WaitGroup
}

func newRacingDocs(docs *memDocs, n int) *racingDocs {
	r := &racingDocs{memDocs: docs}
	r.arrived.Add(n)
	return r
}

func (r *racingDocs) ExistsByFile(ctx context.Context, file string) (bool, error) {
	exists, err := r.memDocs.ExistsByFile(ctx, file)
	r.arrived.Done()
	r.arrived.Wait()
	return exists, err
}
