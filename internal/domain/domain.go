package domain

import (
	"strings"
	"time"
)

// Role is the single role a user holds.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleTester    Role = "TESTER"
	RoleDeveloper Role = "DEVELOPER"
)

// ParseRole accepts any casing of ADMIN, TESTER or DEVELOPER.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleTester:
		return RoleTester, true
	case RoleDeveloper:
		return RoleDeveloper, true
	}
	return "", false
}

// BugStatus values are stored upper-case.
type BugStatus string

const (
	BugOpen       BugStatus = "OPEN"
	BugAssigned   BugStatus = "ASSIGNED"
	BugInProgress BugStatus = "IN_PROGRESS"
	BugResolved   BugStatus = "RESOLVED"
	BugClosed     BugStatus = "CLOSED"
)

// ParseBugStatus compares case-insensitively.
func ParseBugStatus(s string) (BugStatus, bool) {
	switch BugStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case BugOpen:
		return BugOpen, true
	case BugAssigned:
		return BugAssigned, true
	case BugInProgress:
		return BugInProgress, true
	case BugResolved:
		return BugResolved, true
	case BugClosed:
		return BugClosed, true
	}
	return "", false
}

// Done reports whether the bug can no longer newly breach.
func (s BugStatus) Done() bool { return s == BugResolved || s == BugClosed }

type BugPriority string

const (
	BugHigh   BugPriority = "HIGH"
	BugMedium BugPriority = "MEDIUM"
	BugLow    BugPriority = "LOW"
)

func ParseBugPriority(s string) (BugPriority, bool) {
	switch BugPriority(strings.ToUpper(strings.TrimSpace(s))) {
	case BugHigh:
		return BugHigh, true
	case BugMedium:
		return BugMedium, true
	case BugLow:
		return BugLow, true
	}
	return "", false
}

// Rank orders priorities for display: HIGH first.
func (p BugPriority) Rank() int {
	switch p {
	case BugHigh:
		return 1
	case BugMedium:
		return 2
	case BugLow:
		return 3
	}
	return 4
}

type TaskStatus string

const (
	TaskUnassigned TaskStatus = "UNASSIGNED"
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskClosed     TaskStatus = "CLOSED"
)

type TaskPriority string

const (
	TaskLow      TaskPriority = "LOW"
	TaskMedium   TaskPriority = "MEDIUM"
	TaskHigh     TaskPriority = "HIGH"
	TaskCritical TaskPriority = "CRITICAL"
)

func ParseTaskPriority(s string) (TaskPriority, bool) {
	switch TaskPriority(strings.ToUpper(strings.TrimSpace(s))) {
	case TaskLow:
		return TaskLow, true
	case TaskMedium:
		return TaskMedium, true
	case TaskHigh:
		return TaskHigh, true
	case TaskCritical:
		return TaskCritical, true
	}
	return "", false
}

// EntityKind names the parent of a log record.
type EntityKind string

const (
	KindBug  EntityKind = "bug"
	KindTask EntityKind = "task"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role" enum:"ADMIN,TESTER,DEVELOPER"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member records a developer or tester working on a project.
type Member struct {
	ProjectID int64 `json:"project_id"`
	UserID    int64 `json:"user_id"`
	Role      Role  `json:"role"`
}

// Attachment is an opaque payload; the core never looks inside Data.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

func (a *Attachment) Empty() bool { return a == nil || len(a.Data) == 0 }

type Bug struct {
	ID               int64       `json:"id"`
	ProjectID        int64       `json:"project_id"`
	Title            string      `json:"title"`
	Description      string      `json:"description,omitempty"`
	Priority         BugPriority `json:"priority" enum:"HIGH,MEDIUM,LOW"`
	Status           BugStatus   `json:"status" enum:"OPEN,ASSIGNED,IN_PROGRESS,RESOLVED,CLOSED"`
	Resolution       string      `json:"resolution,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	LastStatusChange time.Time   `json:"last_status_change"`
	Breached         bool        `json:"breached"`
	CreatorID        int64       `json:"creator_id"`
	AssigneeID       *int64      `json:"assignee_id,omitempty"`
	HasImage         bool        `json:"has_image"`
	Image            *Attachment `json:"-"`
	OriginalImage    *Attachment `json:"-"`
}

// IsAssignee reports whether userID is the current assignee.
func (b Bug) IsAssignee(userID int64) bool {
	return b.AssigneeID != nil && *b.AssigneeID == userID
}

type Task struct {
	ID            int64        `json:"id"`
	ProjectID     int64        `json:"project_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Priority      TaskPriority `json:"priority" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Status        TaskStatus   `json:"status" enum:"UNASSIGNED,ASSIGNED,CLOSED"`
	CreatorID     int64        `json:"creator_id"`
	AssigneeID    *int64       `json:"assignee_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	AssignedAt    *time.Time   `json:"assigned_at,omitempty"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
	HasImage      bool         `json:"has_image"`
	Image         *Attachment  `json:"-"`
	OriginalImage *Attachment  `json:"-"`
}

func (t Task) IsAssignee(userID int64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// LogRecord is one immutable audit entry for a bug or task.
type LogRecord struct {
	ID         int64       `json:"id"`
	EntityKind EntityKind  `json:"entity_kind"`
	EntityID   int64       `json:"entity_id"`
	ActorID    int64       `json:"actor_id"`
	Status     string      `json:"status"`
	Text       string      `json:"text,omitempty"`
	HasImage   bool        `json:"has_image"`
	Image      *Attachment `json:"-"`
	Timestamp  time.Time   `json:"ts"`
}
