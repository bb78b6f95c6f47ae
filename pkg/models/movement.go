package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Movement is a business transaction type and the root of its configuration tree.
type Movement struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Code        string        `db:"code" json:"code"`
	Description string        `db:"description" json:"description"`
	Version     int           `db:"version" json:"version"`
	CreatedBy   string        `db:"created_by" json:"created_by"`
	UpdatedBy   string        `db:"updated_by" json:"updated_by"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
	Chains      []ConfigChain `db:"-" json:"chains"`
}

// Chain returns the binding to the catalog chain chainID.
func (m *Movement) Chain(chainID uuid.UUID) (*ConfigChain, bool) {
	for i := range m.Chains {
		if m.Chains[i].ID == chainID {
			return &m.Chains[i], true
		}
	}
	return nil, false
}

// RuleLocation addresses a rule inside a movement tree.
type RuleLocation struct {
	ChainID    uuid.UUID
	StepID     uuid.UUID
	StepFileID uuid.UUID
}

// FindRule looks a rule up by id across every active step of the movement.
func (m *Movement) FindRule(ruleID uuid.UUID) (RuleLocation, bool) {
	for _, chain := range m.Chains {
		for _, step := range chain.Steps {
			for _, file := range step.Files {
				for _, rule := range file.Rules {
					if rule.ID == ruleID {
						return RuleLocation{ChainID: chain.ID, StepID: step.ID, StepFileID: file.StepFileID}, true
					}
				}
			}
		}
	}
	return RuleLocation{}, false
}

func (m Movement) Clone() Movement {
	out := m
	if m.Chains != nil {
		out.Chains = make([]ConfigChain, len(m.Chains))
		for i, chain := range m.Chains {
			out.Chains[i] = chain.Clone()
		}
	}
	return out
}

// ConfigChain binds a movement to a catalog chain. ID is the catalog chain id;
// MovementChainID identifies the binding itself.
type ConfigChain struct {
	ID              uuid.UUID    `db:"chain_id" json:"id"`
	MovementChainID uuid.UUID    `db:"id" json:"movement_chain_id"`
	Code            string       `db:"code" json:"code"`
	Steps           []ConfigStep `db:"-" json:"steps"`
}

func (c *ConfigChain) Step(stepID uuid.UUID) (*ConfigStep, bool) {
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			return &c.Steps[i], true
		}
	}
	return nil, false
}

// RemoveStep drops the step and, with it, every file config and rule below it.
func (c *ConfigChain) RemoveStep(stepID uuid.UUID) bool {
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			c.Steps = append(c.Steps[:i], c.Steps[i+1:]...)
			return true
		}
	}
	return false
}

func (c ConfigChain) Clone() ConfigChain {
	out := c
	if c.Steps != nil {
		out.Steps = make([]ConfigStep, len(c.Steps))
		for i, step := range c.Steps {
			out.Steps[i] = step.Clone()
		}
	}
	return out
}

// StepState is either Active or Inactive. A movement step id only exists on
// Active, so "id set but inactive" cannot be represented.
type StepState interface {
	stepState()
}

type Active struct {
	MovementStepID uuid.UUID
	ActivatedBy    string
	ActivatedAt    time.Time
}

type Inactive struct{}

func (Active) stepState()   {}
func (Inactive) stepState() {}

// ConfigStep is a movement's view of one catalog step. ID is the catalog step id.
type ConfigStep struct {
	ID    uuid.UUID
	Name  string
	Rank  int
	State StepState
	Files []FileConfig
}

func (s ConfigStep) IsActive() bool {
	_, ok := s.State.(Active)
	return ok
}

func (s ConfigStep) MovementStepID() (uuid.UUID, bool) {
	active, ok := s.State.(Active)
	if !ok {
		return uuid.Nil, false
	}
	return active.MovementStepID, true
}

func (s *ConfigStep) File(stepFileID uuid.UUID) (*FileConfig, bool) {
	for i := range s.Files {
		if s.Files[i].StepFileID == stepFileID {
			return &s.Files[i], true
		}
	}
	return nil, false
}

func (s ConfigStep) Clone() ConfigStep {
	out := s
	if s.Files != nil {
		out.Files = make([]FileConfig, len(s.Files))
		for i, file := range s.Files {
			out.Files[i] = file.Clone()
		}
	}
	return out
}

type configStepJSON struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Rank           int          `json:"rank"`
	IsActive       bool         `json:"is_active"`
	MovementStepID *uuid.UUID   `json:"movement_step_id,omitempty"`
	ActivatedBy    string       `json:"activated_by,omitempty"`
	ActivatedAt    *time.Time   `json:"activated_at,omitempty"`
	Files          []FileConfig `json:"files"`
}

func (s ConfigStep) MarshalJSON() ([]byte, error) {
	out := configStepJSON{
		ID:    s.ID,
		Name:  s.Name,
		Rank:  s.Rank,
		Files: s.Files,
	}
	if out.Files == nil {
		out.Files = []FileConfig{}
	}
	if active, ok := s.State.(Active); ok {
		out.IsActive = true
		out.MovementStepID = &active.MovementStepID
		out.ActivatedBy = active.ActivatedBy
		out.ActivatedAt = &active.ActivatedAt
	}
	return json.Marshal(out)
}

func (s *ConfigStep) UnmarshalJSON(data []byte) error {
	var in configStepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.ID = in.ID
	s.Name = in.Name
	s.Rank = in.Rank
	s.Files = in.Files
	s.State = Inactive{}
	if in.IsActive && in.MovementStepID != nil {
		active := Active{MovementStepID: *in.MovementStepID, ActivatedBy: in.ActivatedBy}
		if in.ActivatedAt != nil {
			active.ActivatedAt = *in.ActivatedAt
		}
		s.State = active
	}
	return nil
}

// FileConfig holds a movement's monitoring state and rules for one catalog step file.
// PhysicalName and Copybook override the catalog defaults when set.
type FileConfig struct {
	ID           uuid.UUID `json:"id"`
	StepFileID   uuid.UUID `json:"step_file_id"`
	LogicalName  string    `json:"logical_name"`
	IsMonitored  bool      `json:"is_monitored"`
	PhysicalName *string   `json:"physical_name,omitempty"`
	Copybook     *string   `json:"copybook,omitempty"`
	Rules        []Rule    `json:"rules"`
}

func (f *FileConfig) RuleByMessage(message string) (*Rule, bool) {
	for i := range f.Rules {
		if f.Rules[i].Message == message {
			return &f.Rules[i], true
		}
	}
	return nil, false
}

func (f *FileConfig) RemoveRule(ruleID uuid.UUID) bool {
	for i := range f.Rules {
		if f.Rules[i].ID == ruleID {
			f.Rules = append(f.Rules[:i], f.Rules[i+1:]...)
			return true
		}
	}
	return false
}

func (f FileConfig) Clone() FileConfig {
	out := f
	if f.PhysicalName != nil {
		name := *f.PhysicalName
		out.PhysicalName = &name
	}
	if f.Copybook != nil {
		copybook := *f.Copybook
		out.Copybook = &copybook
	}
	if f.Rules != nil {
		out.Rules = append([]Rule(nil), f.Rules...)
	}
	return out
}

// Rule is a remediation instruction attached to a monitored file.
type Rule struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Message        string    `db:"message" json:"message"`
	FixInstruction string    `db:"fix_instruction" json:"fix_instruction"`
	Details        string    `db:"details" json:"details,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CreateMovementRequest is the request body for creating a movement
type CreateMovementRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description"`
}

// AttachChainRequest is the request body for binding a catalog chain to a movement
type AttachChainRequest struct {
	CatalogChainID uuid.UUID `json:"catalog_chain_id" validate:"required"`
}

// SetMonitoringRequest is the request body for toggling file monitoring
type SetMonitoringRequest struct {
	IsMonitored *bool `json:"is_monitored" validate:"required"`
}

// OverrideFileNamesRequest sets or clears (empty string) the movement's file names
type OverrideFileNamesRequest struct {
	PhysicalName string `json:"physical_name"`
	Copybook     string `json:"copybook"`
}

// AddRuleRequest is the request body for attaching a rule to a monitored file
type AddRuleRequest struct {
	Message        string `json:"message" validate:"required"`
	FixInstruction string `json:"fix_instruction" validate:"required"`
	Details        string `json:"details"`
}
