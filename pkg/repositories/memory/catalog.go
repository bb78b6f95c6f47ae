// Package memory holds in-process stores used when no database is configured
// and by the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// CatalogStore keeps each chain as an immutable value. Writers replace the
// value under the write lock; readers always receive clones.
type CatalogStore struct {
	mu        sync.RWMutex
	chains    map[uuid.UUID]models.CatalogChain
	stepChain map[uuid.UUID]uuid.UUID
	now       func() time.Time
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		chains:    map[uuid.UUID]models.CatalogChain{},
		stepChain: map[uuid.UUID]uuid.UUID{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CatalogStore) ListChains(ctx context.Context) ([]models.CatalogChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chains := make([]models.CatalogChain, 0, len(s.chains))
	for _, chain := range s.chains {
		header := chain.Clone()
		header.Steps = nil
		chains = append(chains, header)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Code < chains[j].Code })
	return chains, nil
}

func (s *CatalogStore) GetChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.chains[id]
	if !ok {
		return nil, ferrors.NotFound("chain %s does not exist", id).With("chain_id", id)
	}
	out := chain.Clone()
	return &out, nil
}

func (s *CatalogStore) ListSteps(ctx context.Context, chainID uuid.UUID) ([]models.Step, error) {
	chain, err := s.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return chain.Steps, nil
}

func (s *CatalogStore) GetStep(ctx context.Context, stepID uuid.UUID) (*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chainID, ok := s.stepChain[stepID]
	if !ok {
		return nil, ferrors.NotFound("step %s does not exist", stepID).With("step_id", stepID)
	}
	for _, step := range s.chains[chainID].Steps {
		if step.ID == stepID {
			out := step.Clone()
			return &out, nil
		}
	}
	return nil, ferrors.NotFound("step %s does not exist", stepID).With("step_id", stepID)
}

func (s *CatalogStore) CreateChain(ctx context.Context, chain *models.CatalogChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chains {
		if existing.Code == chain.Code {
			return ferrors.DuplicateCode("chain code %s already exists", chain.Code).With("code", chain.Code)
		}
	}

	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	chain.Version = 1
	chain.CreatedAt = s.now()
	chain.UpdatedAt = chain.CreatedAt
	chain.Steps = []models.Step{}

	s.chains[chain.ID] = chain.Clone()
	return nil
}

func (s *CatalogStore) UpdateChain(ctx context.Context, chain *models.CatalogChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.chains[chain.ID]
	if !ok {
		return ferrors.NotFound("chain %s does not exist", chain.ID).With("chain_id", chain.ID)
	}

	next := current.Clone()
	next.Description = chain.Description
	next.Version++
	next.UpdatedAt = s.now()
	s.chains[next.ID] = next

	*chain = next.Clone()
	chain.Steps = nil
	return nil
}

func (s *CatalogStore) RetireChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.chains[id]
	if !ok {
		return nil, ferrors.NotFound("chain %s does not exist", id).With("chain_id", id)
	}

	next := current.Clone()
	if next.RetiredAt == nil {
		retired := s.now()
		next.RetiredAt = &retired
	}
	next.Version++
	next.UpdatedAt = s.now()
	s.chains[id] = next

	out := next.Clone()
	out.Steps = nil
	return &out, nil
}

func (s *CatalogStore) CreateStep(ctx context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.chains[step.ChainID]
	if !ok {
		return ferrors.NotFound("chain %s does not exist", step.ChainID).With("chain_id", step.ChainID)
	}
	if current.IsRetired() {
		return ferrors.InvalidState("chain %s is retired", current.Code).With("chain_id", current.ID)
	}
	for _, existing := range current.Steps {
		if existing.Rank == step.Rank {
			return ferrors.DuplicateCode("rank %d is already used in chain %s", step.Rank, step.ChainID).With("rank", step.Rank)
		}
	}

	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	step.CreatedAt = s.now()
	step.PossibleFiles = []models.StepFile{}

	next := current.Clone()
	next.Version++
	next.UpdatedAt = step.CreatedAt
	next.Steps = append(next.Steps, step.Clone())
	sort.Slice(next.Steps, func(i, j int) bool { return next.Steps[i].Rank < next.Steps[j].Rank })
	s.chains[next.ID] = next
	s.stepChain[step.ID] = next.ID
	return nil
}

func (s *CatalogStore) CreateStepFile(ctx context.Context, file *models.StepFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chainID, ok := s.stepChain[file.StepID]
	if !ok {
		return ferrors.NotFound("step %s does not exist", file.StepID).With("step_id", file.StepID)
	}

	next := s.chains[chainID].Clone()
	next.Version++
	next.UpdatedAt = s.now()
	for i := range next.Steps {
		step := &next.Steps[i]
		if step.ID != file.StepID {
			continue
		}
		for _, existing := range step.PossibleFiles {
			if existing.Direction == file.Direction && existing.LogicalName == file.LogicalName {
				return ferrors.DuplicateCode("file %s already exists as %s on step %s", file.LogicalName, file.Direction, file.StepID).
					With("logical_name", file.LogicalName)
			}
		}

		if file.ID == uuid.Nil {
			file.ID = uuid.New()
		}
		file.CreatedAt = s.now()
		step.PossibleFiles = append(step.PossibleFiles, *file)
		sort.Slice(step.PossibleFiles, func(i, j int) bool {
			a, b := step.PossibleFiles[i], step.PossibleFiles[j]
			if a.Direction != b.Direction {
				return a.Direction < b.Direction
			}
			return a.LogicalName < b.LogicalName
		})
	}
	s.chains[chainID] = next
	return nil
}

// Snapshot runs fn directly: chains are replaced, never edited, so every read
// already sees a whole version.
func (s *CatalogStore) Snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
