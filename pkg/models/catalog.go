package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction tells whether a step consumes or produces a file.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// CatalogChain is a reusable processing chain template.
type CatalogChain struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	Description string     `db:"description" json:"description"`
	Version     int        `db:"version" json:"version"`
	RetiredAt   *time.Time `db:"retired_at" json:"retired_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	Steps       []Step     `db:"-" json:"steps,omitempty"`
}

func (c CatalogChain) IsRetired() bool {
	return c.RetiredAt != nil
}

// Clone returns a deep copy so callers never share step slices with the store.
func (c CatalogChain) Clone() CatalogChain {
	out := c
	if c.RetiredAt != nil {
		retired := *c.RetiredAt
		out.RetiredAt = &retired
	}
	if c.Steps != nil {
		out.Steps = make([]Step, len(c.Steps))
		for i, step := range c.Steps {
			out.Steps[i] = step.Clone()
		}
	}
	return out
}

// Step is an ordered stage of a catalog chain. Rank is unique within the chain.
type Step struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ChainID       uuid.UUID  `db:"chain_id" json:"chain_id"`
	Name          string     `db:"name" json:"name"`
	Rank          int        `db:"rank" json:"rank"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	PossibleFiles []StepFile `db:"-" json:"possible_files"`
}

func (s Step) Clone() Step {
	out := s
	if s.PossibleFiles != nil {
		out.PossibleFiles = append([]StepFile(nil), s.PossibleFiles...)
	}
	return out
}

// File returns the possible file with the given id.
func (s Step) File(stepFileID uuid.UUID) (StepFile, bool) {
	for _, file := range s.PossibleFiles {
		if file.ID == stepFileID {
			return file, true
		}
	}
	return StepFile{}, false
}

// StepFile is a file a step may consume (IN) or produce (OUT).
// LogicalName is unique within the owning step and direction.
type StepFile struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	StepID              uuid.UUID `db:"step_id" json:"step_id"`
	Direction           Direction `db:"direction" json:"direction"`
	LogicalName         string    `db:"logical_name" json:"logical_name"`
	DefaultPhysicalName string    `db:"default_physical_name" json:"default_physical_name"`
	DefaultCopybook     string    `db:"default_copybook" json:"default_copybook"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// CreateChainRequest is the request body for creating a catalog chain
type CreateChainRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description"`
}

// UpdateChainRequest is the request body for updating a catalog chain
type UpdateChainRequest struct {
	Description string `json:"description"`
}

// CreateStepRequest is the request body for adding a step to a chain
type CreateStepRequest struct {
	Name string `json:"name" validate:"required"`
	Rank int    `json:"rank" validate:"gte=0"`
}

// CreateStepFileRequest is the request body for adding a possible file to a step
type CreateStepFileRequest struct {
	Direction           Direction `json:"direction" validate:"required,oneof=IN OUT"`
	LogicalName         string    `json:"logical_name" validate:"required"`
	DefaultPhysicalName string    `json:"default_physical_name"`
	DefaultCopybook     string    `json:"default_copybook"`
}
