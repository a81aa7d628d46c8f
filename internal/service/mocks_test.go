package service

import (
	"context"
	"sync"
	"time"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
)

// Fakes en memoria para los repos; cada uno permite inyectar un error puntual
// con failOn para probar los caminos de rollback y degradación.

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]domain.UserProfile
	failOn string
	err    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.UserProfile)}
}

func (f *fakeUserRepo) fail(op string) error {
	if f.failOn == op {
		return f.err
	}
	return nil
}

func (f *fakeUserRepo) Create(_ context.Context, user domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create"); err != nil {
		return err
	}
	if _, ok := f.users[user.UserID]; ok {
		return nil
	}
	f.users[user.UserID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, userID string) (domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) SetStatus(_ context.Context, userID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.Status = status
	f.users[userID] = u
	return nil
}

func (f *fakeUserRepo) SetProactiveEnabled(_ context.Context, userID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.ProactiveEnabled = enabled
	f.users[userID] = u
	return nil
}

func (f *fakeUserRepo) SetEngagementFlag(_ context.Context, userID string, flagged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.EngagementFlag = flagged
	f.users[userID] = u
	return nil
}

func (f *fakeUserRepo) TouchLastInteraction(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.LastInteraction = &at
	f.users[userID] = u
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	return nil
}

func (f *fakeUserRepo) ListActiveSince(_ context.Context, _ time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, u := range f.users {
		if u.IsActive() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeUserRepo) ListPaged(_ context.Context, _, _ int) ([]domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UserProfile
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUserRepo) ListIdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, u := range f.users {
		if u.LastInteraction != nil && u.LastInteraction.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeUserRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

type fakePersonalityRepo struct {
	mu       sync.Mutex
	traits   map[string]domain.TraitVector
	current  map[string]domain.PADState
	baseline map[string]domain.PADState
	history  map[string][]domain.PADState
	failOn   string
	err      error
}

func newFakePersonalityRepo() *fakePersonalityRepo {
	return &fakePersonalityRepo{
		traits:   make(map[string]domain.TraitVector),
		current:  make(map[string]domain.PADState),
		baseline: make(map[string]domain.PADState),
		history:  make(map[string][]domain.PADState),
	}
}

func (f *fakePersonalityRepo) fail(op string) error {
	if f.failOn == op {
		return f.err
	}
	return nil
}

func (f *fakePersonalityRepo) InsertTraits(_ context.Context, traits domain.TraitVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("insert_traits"); err != nil {
		return err
	}
	if _, ok := f.traits[traits.UserID]; ok {
		return nil
	}
	f.traits[traits.UserID] = traits
	return nil
}

func (f *fakePersonalityRepo) GetTraits(_ context.Context, userID string) (domain.TraitVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.traits[userID]
	if !ok {
		return domain.TraitVector{}, domain.ErrUserNotFound
	}
	return t, nil
}

func (f *fakePersonalityRepo) GetCurrentPAD(_ context.Context, userID string) (domain.PADState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.current[userID]
	if !ok {
		return domain.PADState{}, domain.ErrUserNotFound
	}
	return p, nil
}

func (f *fakePersonalityRepo) SetCurrentPAD(_ context.Context, userID string, state domain.PADState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("set_current"); err != nil {
		return err
	}
	f.current[userID] = state
	f.history[userID] = append(f.history[userID], state)
	return nil
}

func (f *fakePersonalityRepo) GetBaseline(_ context.Context, userID string) (domain.PADState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.baseline[userID]
	if !ok {
		return domain.PADState{}, domain.ErrUserNotFound
	}
	return p, nil
}

func (f *fakePersonalityRepo) UpsertBaseline(_ context.Context, userID string, state domain.PADState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("upsert_baseline"); err != nil {
		return err
	}
	f.baseline[userID] = state
	return nil
}

func (f *fakePersonalityRepo) RecentCurrentPAD(_ context.Context, userID string, since time.Time) ([]domain.PADState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PADState
	for _, p := range f.history[userID] {
		if p.UpdatedAt.IsZero() || !p.UpdatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePersonalityRepo) DeleteAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.traits, userID)
	delete(f.current, userID)
	delete(f.baseline, userID)
	delete(f.history, userID)
	return nil
}

type fakeQuirkRepo struct {
	mu      sync.Mutex
	quirks  map[string][]domain.Quirk
	pending map[string]map[string]int
	failOn  string
	err     error
}

func newFakeQuirkRepo() *fakeQuirkRepo {
	return &fakeQuirkRepo{
		quirks:  make(map[string][]domain.Quirk),
		pending: make(map[string]map[string]int),
	}
}

func (f *fakeQuirkRepo) Insert(_ context.Context, quirk domain.Quirk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "insert" {
		return f.err
	}
	f.quirks[quirk.UserID] = append(f.quirks[quirk.UserID], quirk)
	return nil
}

func (f *fakeQuirkRepo) ListByUser(_ context.Context, userID string, activeOnly bool) ([]domain.Quirk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Quirk
	for _, q := range f.quirks[userID] {
		if activeOnly && !q.Active {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeQuirkRepo) Reinforce(_ context.Context, userID, name string, delta float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.quirks[userID]
	for i, q := range list {
		if q.Name != name || !q.Active {
			continue
		}
		q.Strength += delta
		if q.Strength > 1 {
			q.Strength = 1
		}
		q.LastReinforced = &at
		list[i] = q
		if f.pending[userID] == nil {
			f.pending[userID] = make(map[string]int)
		}
		f.pending[userID][name]++
	}
	return nil
}

func (f *fakeQuirkRepo) ApplyEvolution(_ context.Context, quirk domain.Quirk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.quirks[quirk.UserID]
	for i, q := range list {
		if q.ID == quirk.ID {
			list[i] = quirk
		}
	}
	if m := f.pending[quirk.UserID]; m != nil {
		delete(m, quirk.Name)
	}
	return nil
}

func (f *fakeQuirkRepo) PendingReinforcements(_ context.Context, userID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for k, v := range f.pending[userID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeQuirkRepo) DeleteAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quirks, userID)
	delete(f.pending, userID)
	return nil
}

type fakeNeedRepo struct {
	mu     sync.Mutex
	needs  map[string][]domain.Need
	failOn string
	err    error
}

func newFakeNeedRepo() *fakeNeedRepo {
	return &fakeNeedRepo{needs: make(map[string][]domain.Need)}
}

func (f *fakeNeedRepo) Upsert(_ context.Context, need domain.Need) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "upsert" {
		return f.err
	}
	list := f.needs[need.UserID]
	for i, n := range list {
		if n.Type == need.Type {
			list[i] = need
			return nil
		}
	}
	f.needs[need.UserID] = append(list, need)
	return nil
}

func (f *fakeNeedRepo) ListByUser(_ context.Context, userID string) ([]domain.Need, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Need(nil), f.needs[userID]...), nil
}

func (f *fakeNeedRepo) SetLevel(_ context.Context, userID, needType string, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	list := f.needs[userID]
	for i, n := range list {
		if n.Type == needType {
			n.CurrentLevel = level
			list[i] = n
		}
	}
	return nil
}

func (f *fakeNeedRepo) DecayAllTowardOne(_ context.Context, hours float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for uid, list := range f.needs {
		for i, n := range list {
			n.CurrentLevel += n.DecayRate * hours
			if n.CurrentLevel > 1 {
				n.CurrentLevel = 1
			}
			list[i] = n
		}
		f.needs[uid] = list
	}
	return nil
}

func (f *fakeNeedRepo) DeleteAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.needs, userID)
	return nil
}

type fakeInteractionRepo struct {
	mu      sync.Mutex
	records map[string][]domain.InteractionRecord
	stats   repository.InteractionStats
}

func newFakeInteractionRepo() *fakeInteractionRepo {
	return &fakeInteractionRepo{records: make(map[string][]domain.InteractionRecord)}
}

func (f *fakeInteractionRepo) Insert(_ context.Context, rec domain.InteractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.UserID] = append(f.records[rec.UserID], rec)
	return nil
}

func (f *fakeInteractionRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.InteractionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.records[userID]
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append([]domain.InteractionRecord(nil), list...), nil
}

func (f *fakeInteractionRepo) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records[userID] {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeInteractionRepo) Stats(_ context.Context, _ string, _ time.Time) (repository.InteractionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeInteractionRepo) DeleteAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
	return nil
}
