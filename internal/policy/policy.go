// Package policy decides whether an actor may perform an action on a bug,
// task or project. It is a pure function of the actor's role, the actor's
// relationship to the entity and the entity's current status.
package policy

import (
	"fmt"

	"bugtrail/internal/apperr"
	"bugtrail/internal/domain"
)

type Action string

const (
	CreateBug           Action = "bug.create"
	AssignBug           Action = "bug.assign"
	UpdateBugStatus     Action = "bug.status.update"
	ReopenBug           Action = "bug.reopen"
	CloseBugByTester    Action = "bug.close_by_tester"
	ReassignBugByTester Action = "bug.reassign_by_tester"
	AddBugLog           Action = "bug.log.add"
	ViewBug             Action = "bug.read"
	ViewBugLogs         Action = "bug.logs.read"

	CreateTask        Action = "task.create"
	AssignTask        Action = "task.assign"
	CloseTaskByTester Action = "task.close_by_tester"
	ViewTask          Action = "task.read"
	ViewTaskLogs      Action = "task.logs.read"

	ListItems        Action = "items.list"
	CreateProject    Action = "project.create"
	AddProjectMember Action = "project.member.add"
)

// Request is everything the evaluator looks at. Status is the entity's
// current status (upper-case) or empty for actions without an entity.
type Request struct {
	Action     Action
	Role       domain.Role
	IsCreator  bool
	IsAssignee bool
	Status     string
}

// Decision is Allow or Deny with a kind and reason.
type Decision struct {
	Allowed bool
	Kind    apperr.Kind
	Reason  string
}

var allow = Decision{Allowed: true}

func forbid(format string, args ...any) Decision {
	return Decision{Kind: apperr.KindForbidden, Reason: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) Decision {
	return Decision{Kind: apperr.KindConflict, Reason: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) Decision {
	return Decision{Kind: apperr.KindInvalid, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denial into an *apperr.Error; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &apperr.Error{Kind: d.Kind, Message: d.Reason}
}

// Evaluate applies the role x action matrix. Role and relationship are
// checked before state, so a stranger always sees Forbidden rather than
// learning the entity's status.
func Evaluate(r Request) Decision {
	switch r.Role {
	case domain.RoleAdmin, domain.RoleTester, domain.RoleDeveloper:
	default:
		return forbid("unknown role %q", r.Role)
	}
	switch r.Action {
	case CreateBug:
		if r.Role != domain.RoleTester {
			return forbid("only testers can create bugs")
		}
		return allow
	case CreateTask:
		if r.Role != domain.RoleDeveloper {
			return forbid("only developers can create tasks")
		}
		return allow
	case AssignBug:
		switch r.Role {
		case domain.RoleAdmin:
		case domain.RoleDeveloper:
			if !r.IsAssignee {
				return forbid("only the currently assigned developer can reassign this bug")
			}
		case domain.RoleTester:
			return forbid("only admins or the currently assigned developer can assign bugs")
		}
		if r.Status == string(domain.BugClosed) {
			return conflict("cannot reassign a bug that is CLOSED")
		}
		return allow
	case UpdateBugStatus:
		if r.Role != domain.RoleDeveloper || !r.IsAssignee {
			return forbid("you are not allowed to update this bug")
		}
		if r.Status == string(domain.BugClosed) {
			return conflict("bug is CLOSED")
		}
		return allow
	case ReopenBug:
		return testerCreatorOnResolved(r, "reopen")
	case CloseBugByTester:
		return testerCreatorOnResolved(r, "close")
	case ReassignBugByTester:
		return testerCreatorOnResolved(r, "reassign")
	case AddBugLog:
		if r.Role != domain.RoleDeveloper || !r.IsAssignee {
			return forbid("you are not allowed to log for this bug")
		}
		return allow
	case ViewBug, ViewBugLogs:
		switch r.Role {
		case domain.RoleAdmin:
			return allow
		case domain.RoleDeveloper:
			if !r.IsAssignee {
				return forbid("you can only view bugs assigned to you")
			}
		case domain.RoleTester:
			if !r.IsCreator {
				return forbid("you can only view bugs you created")
			}
		}
		return allow
	case AssignTask:
		if r.Role != domain.RoleAdmin {
			return forbid("only admins can assign tasks")
		}
		switch r.Status {
		case string(domain.TaskClosed):
			return conflict("cannot assign a task that is CLOSED")
		case string(domain.TaskAssigned):
			return conflict("task is already assigned")
		}
		return allow
	case CloseTaskByTester:
		// Any tester may close; assignment is not checked.
		if r.Role != domain.RoleTester {
			return forbid("only testers can close tasks")
		}
		if r.Status == string(domain.TaskClosed) {
			return invalid("task is already closed")
		}
		return allow
	case ViewTask, ViewTaskLogs:
		switch r.Role {
		case domain.RoleAdmin:
			return allow
		case domain.RoleDeveloper:
			if !r.IsCreator {
				return forbid("you can only view tasks you created")
			}
		case domain.RoleTester:
			if !r.IsAssignee {
				return forbid("you can only view tasks assigned to you")
			}
		}
		return allow
	case ListItems:
		return allow
	case CreateProject:
		if r.Role != domain.RoleAdmin {
			return forbid("only admins can create projects")
		}
		return allow
	case AddProjectMember:
		if r.Role != domain.RoleAdmin || !r.IsCreator {
			return forbid("only the project owner can manage members")
		}
		return allow
	}
	return forbid("unknown action %q", r.Action)
}

func testerCreatorOnResolved(r Request, verb string) Decision {
	if r.Role != domain.RoleTester || !r.IsCreator {
		return forbid("only the tester who created this bug can %s it", verb)
	}
	if r.Status != string(domain.BugResolved) {
		return conflict("bug must be RESOLVED to %s", verb)
	}
	return allow
}
