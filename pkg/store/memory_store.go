package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"buglens/pkg/domain"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	emails     map[string]string // email -> user id
	analyses   map[string]domain.Analysis
	statistics map[string]domain.UsageStatistic
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		emails:     make(map[string]string),
		analyses:   make(map[string]domain.Analysis),
		statistics: make(map[string]domain.UsageStatistic),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return ErrDuplicateEmail
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.emails[u.Email]; ok && id != u.ID {
		return ErrDuplicateEmail
	}
	if prev, ok := s.users[u.ID]; ok && prev.Email != u.Email {
		delete(s.emails, prev.Email)
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[email]
	return ok, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByResetToken(_ context.Context, token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PasswordResetToken == token {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, a domain.Analysis) error {
	s.mu.Lock()
	s.analyses[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id string) (domain.Analysis, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	return a, ok, nil
}

func (s *MemoryStore) ListAnalysesByUser(_ context.Context, userID string, limit int) ([]domain.Analysis, error) {
	out := s.filterAnalyses(func(a domain.Analysis) bool { return a.UserID == userID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListAnalysesByLanguage(_ context.Context, userID, language string) ([]domain.Analysis, error) {
	return s.filterAnalyses(func(a domain.Analysis) bool {
		return a.UserID == userID && strings.EqualFold(a.Language, language)
	}), nil
}

// filterAnalyses returns matches newest first.
func (s *MemoryStore) filterAnalyses(keep func(domain.Analysis) bool) []domain.Analysis {
	s.mu.RLock()
	out := make([]domain.Analysis, 0)
	for _, a := range s.analyses {
		if keep(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) CountAnalysesBySuccess(_ context.Context, userID string, since time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var successful, failed int
	for _, a := range s.analyses {
		if a.UserID != userID || a.CreatedAt.Before(since) {
			continue
		}
		if a.Success {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed, nil
}

func (s *MemoryStore) SaveStatistic(_ context.Context, st domain.UsageStatistic) error {
	s.mu.Lock()
	s.statistics[st.ID] = st
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetStatisticByAnalysis(_ context.Context, userID, analysisID string) (domain.UsageStatistic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.statistics {
		if st.UserID == userID && st.AnalysisID == analysisID {
			return st, true, nil
		}
	}
	return domain.UsageStatistic{}, false, nil
}

func (s *MemoryStore) ListStatisticsSince(_ context.Context, userID string, since time.Time) ([]domain.UsageStatistic, error) {
	s.mu.RLock()
	out := make([]domain.UsageStatistic, 0)
	for _, st := range s.statistics {
		if st.UserID == userID && !st.CreatedAt.Before(since) {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
