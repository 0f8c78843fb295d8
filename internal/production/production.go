// Package production tracks tailoring work as jobs moving across a Kanban
// board, from backlog through cutting, sewing and fittings to delivery.
package production

import (
	"strings"
	"time"

	"erp/ecommerce/internal/customer"
)

const (
	StageBacklog      = "backlog"
	StageMeasuring    = "measuring"
	StageCutting      = "cutting"
	StageSewing       = "sewing"
	StageFitting      = "fitting"
	StageAlterations  = "alterations"
	StageFinishing    = "finishing"
	StageQualityCheck = "quality_check"
	StageReady        = "ready"
	StageDelivered    = "delivered"

	StageOnHold    = "on_hold"
	StageCancelled = "cancelled"
)

// Stages is the board's column order.
var Stages = []string{
	StageBacklog, StageMeasuring, StageCutting, StageSewing, StageFitting,
	StageAlterations, StageFinishing, StageQualityCheck, StageReady, StageDelivered,
}

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// rework lists the backward or sideways moves allowed besides the next stage.
var rework = map[string][]string{
	StageFitting:      {StageAlterations},
	StageAlterations:  {StageFitting, StageFinishing},
	StageQualityCheck: {StageAlterations},
}

func stageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

func normalizeStage(stage string) string {
	s := strings.ToLower(strings.TrimSpace(stage))
	if stageIndex(s) >= 0 || s == StageOnHold || s == StageCancelled {
		return s
	}
	return ""
}

func normalizePriority(p string) string {
	s := strings.ToLower(strings.TrimSpace(p))
	switch s {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return s
	default:
		return ""
	}
}

// Terminal reports whether no further moves are allowed from stage.
func Terminal(stage string) bool {
	return stage == StageDelivered || stage == StageCancelled
}

// CanMove reports whether a job may move from one stage to another. heldFrom
// is the stage an on_hold job left.
func CanMove(from, to, heldFrom string) bool {
	if Terminal(from) || from == to {
		return false
	}
	if from == StageOnHold {
		return to == heldFrom || to == StageCancelled
	}
	if to == StageOnHold || to == StageCancelled {
		return true
	}
	i := stageIndex(from)
	if i >= 0 && i+1 < len(Stages) && Stages[i+1] == to {
		return true
	}
	for _, s := range rework[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Job struct {
	ID           string                `json:"id" db:"id"`
	TenantID     string                `json:"tenant_id" db:"tenant_id"`
	OrderID      string                `json:"order_id" db:"order_id"`
	OrderItemID  string                `json:"order_item_id,omitempty" db:"order_item_id"`
	CustomerID   string                `json:"customer_id" db:"customer_id"`
	Title        string                `json:"title" db:"title"`
	GarmentType  string                `json:"garment_type,omitempty" db:"garment_type"`
	Fabric       string                `json:"fabric,omitempty" db:"fabric"`
	Description  string                `json:"description,omitempty" db:"description"`
	Measurements customer.Measurements `json:"measurements" db:"measurements"`
	Stage        string                `json:"stage" db:"stage"`
	HeldFrom     string                `json:"held_from,omitempty" db:"held_from"`
	AssignedTo   string                `json:"assigned_to,omitempty" db:"assigned_to"`
	Priority     string                `json:"priority" db:"priority"`
	Position     int                   `json:"position" db:"position"`
	DueDate      *time.Time            `json:"due_date,omitempty" db:"due_date"`
	StartedAt    *time.Time            `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at" db:"updated_at"`
}

// Overdue reports whether the job missed its due date at now.
func (j Job) Overdue(now time.Time) bool {
	if j.DueDate == nil || j.Stage == StageReady || Terminal(j.Stage) {
		return false
	}
	return j.DueDate.Before(now)
}

type History struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"-" db:"tenant_id"`
	JobID     string    `json:"job_id" db:"job_id"`
	FromStage string    `json:"from_stage,omitempty" db:"from_stage"`
	ToStage   string    `json:"to_stage" db:"to_stage"`
	Actor     string    `json:"actor,omitempty" db:"actor"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CreateJobRequest struct {
	OrderID      string            `json:"order_id" validate:"required"`
	OrderItemID  string            `json:"order_item_id"`
	Title        string            `json:"title" validate:"required,max=200"`
	GarmentType  string            `json:"garment_type" validate:"max=100"`
	Fabric       string            `json:"fabric" validate:"max=200"`
	Description  string            `json:"description" validate:"max=4000"`
	AssignedTo   string            `json:"assigned_to" validate:"max=100"`
	Priority     string            `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	DueDate      *time.Time        `json:"due_date"`
	Measurements map[string]string `json:"measurements"`
}

type UpdateJobRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	GarmentType *string    `json:"garment_type,omitempty" validate:"omitempty,max=100"`
	Fabric      *string    `json:"fabric,omitempty" validate:"omitempty,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=4000"`
	Priority    *string    `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

func (r UpdateJobRequest) empty() bool {
	return r.Title == nil && r.GarmentType == nil && r.Fabric == nil && r.Description == nil &&
		r.Priority == nil && r.DueDate == nil
}

func (r UpdateJobRequest) apply(j *Job) {
	if r.Title != nil {
		j.Title = strings.TrimSpace(*r.Title)
	}
	if r.GarmentType != nil {
		j.GarmentType = strings.ToLower(strings.TrimSpace(*r.GarmentType))
	}
	if r.Fabric != nil {
		j.Fabric = strings.TrimSpace(*r.Fabric)
	}
	if r.Description != nil {
		j.Description = strings.TrimSpace(*r.Description)
	}
	if r.Priority != nil {
		j.Priority = normalizePriority(*r.Priority)
	}
	if r.DueDate != nil {
		d := r.DueDate.UTC().Truncate(time.Microsecond)
		j.DueDate = &d
	}
}

type MoveRequest struct {
	Stage    string `json:"stage" validate:"required"`
	Note     string `json:"note" validate:"max=1000"`
	Actor    string `json:"actor" validate:"max=100"`
	Position *int   `json:"position,omitempty" validate:"omitempty,min=0"`
}

type AssignRequest struct {
	AssignedTo string `json:"assigned_to" validate:"max=100"`
	Actor      string `json:"actor" validate:"max=100"`
}

type ListFilter struct {
	Stage      string
	AssignedTo string
	OrderID    string
	Priority   string
	Cursor     string
	Limit      int
}

type BoardFilter struct {
	AssignedTo       string
	OrderID          string
	IncludeCancelled bool
}

// BoardJob is a job as shown on the board.
type BoardJob struct {
	Job
	Overdue bool `json:"overdue"`
}

type Column struct {
	Stage   string     `json:"stage"`
	Count   int        `json:"count"`
	Overdue int        `json:"overdue"`
	Jobs    []BoardJob `json:"jobs"`
}

type Board struct {
	Columns []Column  `json:"columns"`
	Total   int       `json:"total"`
	Overdue int       `json:"overdue"`
	AsOf    time.Time `json:"as_of"`
}
