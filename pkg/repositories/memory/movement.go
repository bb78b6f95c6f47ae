package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

var (
	_ repositories.CatalogRepo  = (*CatalogStore)(nil)
	_ repositories.MovementRepo = (*MovementStore)(nil)
	_ repositories.Snapshotter  = (*MovementStore)(nil)
)

// MovementStore keeps movements in their stored form: only active steps.
type MovementStore struct {
	mu        sync.RWMutex
	movements map[uuid.UUID]models.Movement
	now       func() time.Time
}

func NewMovementStore() *MovementStore {
	return &MovementStore{
		movements: map[uuid.UUID]models.Movement{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MovementStore) Create(ctx context.Context, movement *models.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.movements {
		if existing.Code == movement.Code {
			return ferrors.DuplicateCode("movement code %s already exists", movement.Code).With("code", movement.Code)
		}
	}

	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	movement.Version = 1
	movement.CreatedAt = s.now()
	movement.UpdatedAt = movement.CreatedAt
	movement.Chains = []models.ConfigChain{}

	s.movements[movement.ID] = movement.Clone()
	return nil
}

func (s *MovementStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movement, ok := s.movements[id]
	if !ok {
		return nil, ferrors.NotFound("movement %s does not exist", id).With("movement_id", id)
	}
	out := movement.Clone()
	return &out, nil
}

func (s *MovementStore) List(ctx context.Context) ([]models.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]models.Movement, 0, len(s.movements))
	for _, movement := range s.movements {
		movements = append(movements, movement.Clone())
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].Code < movements[j].Code })
	return movements, nil
}

// Mutate works on a clone and only swaps it in once fn and the uniqueness
// checks succeed, so a failed mutation leaves nothing behind.
func (s *MovementStore) Mutate(ctx context.Context, id uuid.UUID, actor string, fn repositories.MutateFunc) (*models.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.movements[id]
	if !ok {
		return nil, ferrors.NotFound("movement %s does not exist", id).With("movement_id", id)
	}

	next := current.Clone()
	changed, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &next, nil
	}
	if err := checkUnique(&next); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedBy = actor
	next.UpdatedAt = s.now()
	s.movements[id] = next.Clone()
	return &next, nil
}

func (s *MovementStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.movements[id]; !ok {
		return ferrors.NotFound("movement %s does not exist", id).With("movement_id", id)
	}
	delete(s.movements, id)
	return nil
}

func (s *MovementStore) FindRule(ctx context.Context, ruleID uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, movement := range s.movements {
		if _, ok := movement.FindRule(ruleID); ok {
			return id, nil
		}
	}
	return uuid.Nil, ferrors.NotFound("rule %s does not exist", ruleID).With("rule_id", ruleID)
}

// Snapshot runs fn directly; each read copies a whole movement under the lock.
func (s *MovementStore) Snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// checkUnique mirrors the database constraints on the movement tree.
func checkUnique(movement *models.Movement) error {
	chains := map[uuid.UUID]bool{}
	for _, chain := range movement.Chains {
		if chains[chain.ID] {
			return ferrors.AlreadyAttached("chain %s is already attached to movement %s", chain.Code, movement.Code).
				With("chain_id", chain.ID)
		}
		chains[chain.ID] = true

		for _, step := range chain.Steps {
			for _, file := range step.Files {
				messages := map[string]bool{}
				for _, rule := range file.Rules {
					if messages[rule.Message] {
						return ferrors.DuplicateRule("rule %q already exists on file %s", rule.Message, file.LogicalName).
							With("step_file_id", file.StepFileID)
					}
					messages[rule.Message] = true
				}
			}
		}
	}
	return nil
}
