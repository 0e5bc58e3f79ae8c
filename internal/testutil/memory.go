package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecommerce/storefront/internal/registry"
)

// MemoryRepository is a registry.Repository kept in a map. Documents are
// stored in their JSON form so reads return independent copies and the
// persisted layout is exercised the same way PGRepository does.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[uuid.UUID]memDoc

	// SaveErr, when set, fails every Save call.
	SaveErr error
	// Saves counts successful Save calls.
	Saves int
}

type memDoc struct {
	product registry.Product
	images  []byte
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[uuid.UUID]memDoc)}
}

var _ registry.Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) Create(_ context.Context, p registry.Product) (registry.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[p.ID]; ok {
		return registry.Product{}, errors.New("duplicate product id")
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	if err := m.store(p); err != nil {
		return registry.Product{}, err
	}
	return m.load(p.ID)
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (registry.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *MemoryRepository) Save(_ context.Context, p registry.Product) (registry.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return registry.Product{}, m.SaveErr
	}
	cur, ok := m.docs[p.ID]
	if !ok {
		return registry.Product{}, registry.ErrProductNotFound
	}
	if cur.product.Version != p.Version {
		return registry.Product{}, registry.ErrVersionConflict
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	if err := m.store(p); err != nil {
		return registry.Product{}, err
	}
	m.Saves++
	return m.load(p.ID)
}

func (m *MemoryRepository) ListPurgeCandidates(_ context.Context, cutoff time.Time, limit int) (registry.CandidateBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	var batch registry.CandidateBatch
	for _, id := range ids {
		if limit > 0 && len(batch.Products) == limit {
			break
		}
		p, err := m.load(id)
		if err != nil {
			batch.Unreadable = append(batch.Unreadable, registry.UnreadableProduct{ID: id, Err: err})
			continue
		}
		if len(p.PurgeCandidates(cutoff)) > 0 {
			batch.Products = append(batch.Products, p)
		}
	}
	return batch, nil
}

// InsertRaw stores p with images as its literal image document, bypassing
// encoding. It lets tests plant documents the registry would never write.
func (m *MemoryRepository) InsertRaw(p registry.Product, images string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	p.Images = nil
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	m.docs[p.ID] = memDoc{product: p, images: []byte(images)}
}

func (m *MemoryRepository) store(p registry.Product) error {
	images := p.Images
	if images == nil {
		images = []registry.ImageAsset{}
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return err
	}
	p.Images = nil
	m.docs[p.ID] = memDoc{product: p, images: raw}
	return nil
}

func (m *MemoryRepository) load(id uuid.UUID) (registry.Product, error) {
	doc, ok := m.docs[id]
	if !ok {
		return registry.Product{}, registry.ErrProductNotFound
	}
	p := doc.product
	if err := json.Unmarshal(doc.images, &p.Images); err != nil {
		return registry.Product{}, err
	}
	return p, nil
}
