// Package model holds the entities shared across the orchestration core:
// channels, tasks, reviews, cost entries, audit entries and the upload
// quota ledger described in the data model.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority is one of the three task priority levels.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the round-robin weight multiplier implied by the
// priority level; used only for preemption ordering within a channel,
// never across channels (that uses Channel.PriorityWeight instead).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// LifecycleState is one of the 9 internal lifecycle states from spec.md §4.8.
type LifecycleState string

const (
	StatePending         LifecycleState = "pending"
	StateClaimed         LifecycleState = "claimed"
	StateProcessing      LifecycleState = "processing"
	StateAwaitingReview  LifecycleState = "awaiting_review"
	StateApproved        LifecycleState = "approved"
	StateRetry           LifecycleState = "retry"
	StateFailed          LifecycleState = "failed"
	StateRejected        LifecycleState = "rejected"
	StateCompleted       LifecycleState = "completed"
)

// Terminal reports whether a lifecycle state has no further transitions
// without an explicit human or operator action (retry, re-enqueue).
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateFailed, StateRejected, StateCompleted:
		return true
	default:
		return false
	}
}

// StorageStrategy is a channel's chosen asset-storage backend.
type StorageStrategy string

const (
	StorageLocal          StorageStrategy = "local"
	StorageExternalObject StorageStrategy = "external_object_store"
)

// UploadPrivacy mirrors the upload API's visibility setting.
type UploadPrivacy string

const (
	PrivacyPrivate  UploadPrivacy = "private"
	PrivacyUnlisted UploadPrivacy = "unlisted"
	PrivacyPublic   UploadPrivacy = "public"
)

// Channel is a tenant: one planning-database database plus one upload
// account, with isolated credentials, quotas and concurrency ceiling.
type Channel struct {
	ID                   uuid.UUID
	ChannelID            string // stable short identifier, user-facing
	ChannelName          string
	PlanningDBDatabaseID string
	Active               bool
	PriorityWeight       int
	MaxConcurrent        int
	VoiceID              string
	IntroPath            string
	OutroPath            string
	StorageStrategy      StorageStrategy
	UploadPrivacyDefault UploadPrivacy
	DailySpendCapUSD     *float64

	// EncPlanningDBToken, EncUploadRefreshToken and EncProviderKeys hold
	// envelope-encrypted credential blobs; plaintext never reaches this
	// struct outside of the registration call path in internal/vault.
	EncPlanningDBToken   []byte
	EncUploadRefreshToken []byte
	EncProviderKeys      []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is one planned video, owned by exactly one channel.
type Task struct {
	ID               uuid.UUID
	ChannelID        uuid.UUID
	PlanningPageRef  string
	Title            string
	Topic            string
	StoryDirection   string
	Priority         Priority
	State            LifecycleState
	StageIndex       int
	CompletedStages  uint8 // bitmap, bit k set once stage k has committed
	RetryCount       int
	AvailableAt      time.Time
	ClaimedBy        string
	ClaimedAt        *time.Time
	LockExpiresAt    *time.Time
	LastChannelServedAt *time.Time
	LastErrorKind    string
	LastErrorMessage string
	CorrelationID    string
	Attempt          int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageComplete reports whether bit idx of CompletedStages is set.
func (t *Task) StageComplete(idx int) bool {
	return t.CompletedStages&(1<<uint(idx)) != 0
}

// MarkStageComplete sets bit idx of CompletedStages.
func (t *Task) MarkStageComplete(idx int) {
	t.CompletedStages |= 1 << uint(idx)
}

// ReviewGate identifies one of the four human approval gates.
type ReviewGate string

const (
	GateAssets ReviewGate = "assets"
	GateVideo  ReviewGate = "video"
	GateAudio  ReviewGate = "audio"
	GateFinal  ReviewGate = "final"
)

// ReviewDecision is the outcome of a human review.
type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

// Review is a human approval or rejection recorded at a gate.
type Review struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	Gate       ReviewGate
	Attempt    int
	Reviewer   string
	Decision   ReviewDecision
	Note       string
	CreatedAt  time.Time
}

// CostComponent tags the pipeline stage or external API a CostEntry
// charges against.
type CostComponent string

const (
	ComponentAssets      CostComponent = "assets"
	ComponentComposites  CostComponent = "composites"
	ComponentVideoClips  CostComponent = "video_clips"
	ComponentNarration   CostComponent = "narration"
	ComponentSFX         CostComponent = "sfx"
	ComponentAssembly    CostComponent = "assembly"
	ComponentUpload      CostComponent = "upload"
	ComponentPlanningDB  CostComponent = "planning_db"
)

// CostEntry is one external-API charge recorded against a task.
type CostEntry struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	ChannelID  uuid.UUID
	Component  CostComponent
	Units      float64
	CostUSD    float64
	APICalls   int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// AuditEntry is an append-only compliance record of a human-initiated
// or compliance-relevant system action. Never updated or deleted.
type AuditEntry struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	TaskID    *uuid.UUID
	Action    string
	Actor     string
	Note      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// UploadQuotaLedger is the per-(channel, UTC date) running total of
// upload units consumed against a daily ceiling.
type UploadQuotaLedger struct {
	ChannelID uuid.UUID
	Date      time.Time // truncated to UTC midnight
	Used      float64
	Ceiling   float64
}

// Remaining returns the unused portion of the ceiling; never negative.
func (l UploadQuotaLedger) Remaining() float64 {
	r := l.Ceiling - l.Used
	if r < 0 {
		return 0
	}
	return r
}

// UtilizationFraction returns Used/Ceiling, or 0 if the ceiling is 0.
func (l UploadQuotaLedger) UtilizationFraction() float64 {
	if l.Ceiling <= 0 {
		return 0
	}
	return l.Used / l.Ceiling
}
