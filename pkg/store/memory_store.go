package store

import (
	"sort"
	"sync"
	"time"

	"revintel/pkg/domain"
)

// MemoryStore keeps all records in-process. Used by tests and local dev.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	email       map[string]string // email -> user ID
	products    map[string]domain.ProductDetails
	icps        map[string]domain.ICPProfile // keyed by customer ID
	ratings     map[string][]domain.RatingResult
	research    map[string][]domain.CompanyResearch
	extractions map[string]domain.ExtractionRecord
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		email:       make(map[string]string),
		products:    make(map[string]domain.ProductDetails),
		icps:        make(map[string]domain.ICPProfile),
		ratings:     make(map[string][]domain.RatingResult),
		research:    make(map[string][]domain.CompanyResearch),
		extractions: make(map[string]domain.ExtractionRecord),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SetOnboardingComplete(id string, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	u.OnboardingComplete = complete
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UserCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

func (m *MemoryStore) SaveProduct(p domain.ProductDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProduct(id string) (domain.ProductDetails, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProductsByCustomer(customerID string) ([]domain.ProductDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProductDetails, 0)
	for _, p := range m.products {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SaveICPProfile(p domain.ICPProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.icps[p.CustomerID] = p
	return nil
}

func (m *MemoryStore) GetICPProfile(customerID string) (domain.ICPProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.icps[customerID]
	return p, ok, nil
}

func (m *MemoryStore) SaveRating(r domain.RatingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[r.CustomerID] = append([]domain.RatingResult{r}, m.ratings[r.CustomerID]...)
	return nil
}

func (m *MemoryStore) ListRatingsByCustomer(customerID string) ([]domain.RatingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RatingResult, len(m.ratings[customerID]))
	copy(out, m.ratings[customerID])
	return out, nil
}

func (m *MemoryStore) SaveResearch(r domain.CompanyResearch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.research[r.CustomerID] = append([]domain.CompanyResearch{r}, m.research[r.CustomerID]...)
	return nil
}

func (m *MemoryStore) ListResearchByCustomer(customerID string) ([]domain.CompanyResearch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CompanyResearch, len(m.research[customerID]))
	copy(out, m.research[customerID])
	return out, nil
}

func (m *MemoryStore) SaveExtraction(e domain.ExtractionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[e.ID] = e
	return nil
}

func (m *MemoryStore) GetExtraction(id string) (domain.ExtractionRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.extractions[id]
	return e, ok, nil
}

func (m *MemoryStore) GetLatestExtractionByCustomer(customerID string) (domain.ExtractionRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.ExtractionRecord
	found := false
	for _, e := range m.extractions {
		if e.CustomerID != customerID {
			continue
		}
		if !found || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) SetExtractionStatus(id string, status domain.ExtractionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.extractions[id]
	if !ok {
		return nil
	}
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = time.Now().UTC()
	m.extractions[id] = e
	return nil
}
