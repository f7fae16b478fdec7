package model

import "time"

// BranchStatus is the Workspace state-machine value (spec.md §3).
type BranchStatus string

const (
	BranchClean      BranchStatus = "clean"
	BranchModified   BranchStatus = "modified"
	BranchConflicted BranchStatus = "conflicted"
	BranchMerged     BranchStatus = "merged"
)

// RootWorkspaceID is the id of the one workspace that cannot be deleted and
// persists for the life of the process (spec.md §3, §8).
const RootWorkspaceID = "root"

// Workspace is a node in the branch tree.
type Workspace struct {
	ID                string
	ParentWorkspaceID string // empty for root
	OwningAgentID     string // empty unless this is a branch
	BranchStatus      BranchStatus
	DivergencePoint   int64 // operation id at which this branch forked
	CreatedAt         time.Time
}

// OperationStatus is the Operation state (spec.md §3).
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusWarning OperationStatus = "warning"
	StatusError   OperationStatus = "error"
)

// Operation is one atomic mutation recorded in the OperationLog.
type Operation struct {
	ID            int64
	Type          string
	WorkspaceID   string
	AgentID       string
	Timestamp     time.Time
	Inputs        []byte // JSON
	Outputs       []byte // JSON
	Status        OperationStatus
	ErrorCode     string
	ExecutionTime time.Duration
	UndoPayload   []byte // JSON-encoded UndoPayload, nil for non-reversible ops
}
