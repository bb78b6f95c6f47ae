package models

import "github.com/google/uuid"

// The report keeps the camelCase shape its UI consumer reads.

type WorkflowRule struct {
	Message string `json:"message"`
	Fix     string `json:"fix"`
	Details string `json:"details,omitempty"`
}

type WorkflowFile struct {
	ID           uuid.UUID      `json:"id"`
	Direction    Direction      `json:"direction"`
	LogicalName  string         `json:"logicalName"`
	PhysicalName string         `json:"physicalName"`
	Copybook     string         `json:"copybook"`
	IsMonitored  bool           `json:"isMonitored"`
	HasAlert     bool           `json:"hasAlert"`
	Rules        []WorkflowRule `json:"rules"`
}

type WorkflowStep struct {
	Sequence   int            `json:"sequence"`
	ChainName  string         `json:"chainName"`
	StepName   string         `json:"stepName"`
	Inputs     []WorkflowFile `json:"inputs"`
	Outputs    []WorkflowFile `json:"outputs"`
	HasWarning bool           `json:"hasWarning"`
}

type WorkflowResponse struct {
	Movement    string         `json:"movement"`
	Description string         `json:"description"`
	Workflow    []WorkflowStep `json:"workflow"`
}
