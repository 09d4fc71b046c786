package engine

import (
	"context"
	"database/sql"
	"strings"

	"bugtrail/internal/apperr"
	"bugtrail/internal/domain"
	"bugtrail/internal/notify"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

type TaskCreateOptions struct {
	ProjectID   int64
	Title       string
	Description string
	Priority    string
	Image       *domain.Attachment
}

// CreateTask files an UNASSIGNED task. Only developers may create tasks.
func (e Engine) CreateTask(ctx context.Context, actorID int64, opts TaskCreateOptions) (domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authorize(policy.Request{Action: policy.CreateTask, Role: actor.Role}); err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, apperr.Invalid("title is required")
	}
	priority, ok := domain.ParseTaskPriority(opts.Priority)
	if !ok {
		return domain.Task{}, apperr.Invalid("invalid task priority %q", opts.Priority)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, storeErr(err, "project", opts.ProjectID)
	}

	now := e.now()
	t := domain.Task{
		ProjectID:   opts.ProjectID,
		Title:       title,
		Description: opts.Description,
		Priority:    priority,
		Status:      domain.TaskUnassigned,
		CreatorID:   actor.ID,
		CreatedAt:   now,
	}
	if !opts.Image.Empty() {
		t.Image = opts.Image
		t.OriginalImage = opts.Image
	}
	err = e.inTx(ctx, "create task", func(tx *sql.Tx) error {
		var err error
		if t, err = e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return err
		}
		_, err = e.Audit.Append(ctx, tx, domain.LogRecord{
			EntityKind: domain.KindTask, EntityID: t.ID, ActorID: actor.ID,
			Status: string(t.Status), Text: "Task created by " + actor.Username, Image: t.Image, Timestamp: now,
		})
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	t.Image, t.OriginalImage = nil, nil
	e.log().Info("task created", "task_id", t.ID, "project_id", t.ProjectID, "actor_id", actor.ID)

	project, ownerEmail := e.projectInfo(ctx, t.ProjectID)
	e.emit(notify.Event{
		Type: notify.TaskCreated, EntityID: t.ID, To: ownerEmail,
		Fields: taskFields(t, project, actor.Username, actor.Username),
	})
	return t, nil
}

// AssignTask gives an UNASSIGNED task to a tester. Admin only.
func (e Engine) AssignTask(ctx context.Context, actorID, taskID, testerID int64) (domain.Task, error) {
	actor, t, err := e.loadTask(ctx, actorID, taskID)
	if err != nil {
		return t, err
	}
	if err := authorize(policy.Request{
		Action: policy.AssignTask, Role: actor.Role,
		IsCreator: t.CreatorID == actor.ID, IsAssignee: t.IsAssignee(actor.ID), Status: string(t.Status),
	}); err != nil {
		return t, err
	}
	tester, err := e.Repo.GetUser(ctx, testerID)
	if err != nil {
		return t, storeErr(err, "user", testerID)
	}
	if tester.Role != domain.RoleTester {
		return t, apperr.Invalid("user %s is not a tester", tester.Username)
	}

	now := e.now()
	next := t
	next.Status = domain.TaskAssigned
	next.AssigneeID = &tester.ID
	next.AssignedAt = &now
	if err := e.saveTask(ctx, "assign task", actor, next, "Assigned to tester: "+tester.Username, nil); err != nil {
		return t, err
	}
	project, _ := e.projectInfo(ctx, next.ProjectID)
	e.emit(notify.Event{
		Type: notify.TaskAssigned, EntityID: next.ID, To: tester.Email,
		Fields: taskFields(next, project, e.username(ctx, next.CreatorID), actor.Username),
	})
	return next, nil
}

// CloseTaskByTester closes an open task. Any tester may close any task that
// is not already closed. The image, if any, is kept on the closing log.
func (e Engine) CloseTaskByTester(ctx context.Context, actorID, taskID int64, comment string, image *domain.Attachment) (domain.Task, error) {
	actor, t, err := e.loadTask(ctx, actorID, taskID)
	if err != nil {
		return t, err
	}
	if err := authorize(policy.Request{
		Action: policy.CloseTaskByTester, Role: actor.Role,
		IsCreator: t.CreatorID == actor.ID, IsAssignee: t.IsAssignee(actor.ID), Status: string(t.Status),
	}); err != nil {
		return t, err
	}

	now := e.now()
	next := t
	next.Status = domain.TaskClosed
	next.ClosedAt = &now
	if err := e.saveTask(ctx, "close task", actor, next, comment, image); err != nil {
		return t, err
	}

	project, ownerEmail := e.projectInfo(ctx, next.ProjectID)
	to := e.email(ctx, next.CreatorID)
	cc := notify.CcIfDifferent(to, ownerEmail)
	if to == "" {
		to, cc = ownerEmail, nil
	}
	e.emit(notify.Event{
		Type: notify.TaskClosed, EntityID: next.ID, To: to, Cc: cc,
		Fields: taskFields(next, project, e.username(ctx, next.CreatorID), actor.Username),
	})
	return next, nil
}

// saveTask persists t and appends its log record in one transaction.
func (e Engine) saveTask(ctx context.Context, op string, actor domain.User, t domain.Task, text string, image *domain.Attachment) error {
	ts := e.now()
	switch {
	case t.Status == domain.TaskClosed && t.ClosedAt != nil:
		ts = *t.ClosedAt
	case t.Status == domain.TaskAssigned && t.AssignedAt != nil:
		ts = *t.AssignedAt
	}
	err := e.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		_, err := e.Audit.Append(ctx, tx, domain.LogRecord{
			EntityKind: domain.KindTask, EntityID: t.ID, ActorID: actor.ID,
			Status: string(t.Status), Text: text, Image: image, Timestamp: ts,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.log().Info("task transition", "task_id", t.ID, "to", t.Status, "actor_id", actor.ID)
	return nil
}

func (e Engine) loadTask(ctx context.Context, actorID, taskID int64) (domain.User, domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return actor, domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return actor, t, storeErr(err, "task", taskID)
	}
	return actor, t, nil
}

func taskFields(t domain.Task, project, creator, actor string) notify.Fields {
	return notify.Fields{
		Project:     project,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Creator:     creator,
		Actor:       actor,
	}
}

type TaskListOptions struct {
	ProjectID int64
	Status    string
}

// ListTasks scopes by role: admins see tasks of projects they own,
// developers the tasks they created and testers the tasks assigned to them.
func (e Engine) ListTasks(ctx context.Context, actorID int64, opts TaskListOptions) ([]domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authorize(policy.Request{Action: policy.ListItems, Role: actor.Role}); err != nil {
		return nil, err
	}
	f := repo.TaskFilter{ProjectID: opts.ProjectID}
	switch actor.Role {
	case domain.RoleAdmin:
		f.OwnerID = actor.ID
	case domain.RoleDeveloper:
		f.CreatorID = actor.ID
	case domain.RoleTester:
		f.AssigneeID = actor.ID
	}
	if opts.Status != "" {
		switch st := domain.TaskStatus(strings.ToUpper(strings.TrimSpace(opts.Status))); st {
		case domain.TaskUnassigned, domain.TaskAssigned, domain.TaskClosed:
			f.Status = st
		default:
			return nil, apperr.Invalid("invalid task status %q", opts.Status)
		}
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list tasks")
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (e Engine) canViewTask(actor domain.User, t domain.Task, action policy.Action) error {
	return authorize(policy.Request{
		Action: action, Role: actor.Role,
		IsCreator: t.CreatorID == actor.ID, IsAssignee: t.IsAssignee(actor.ID), Status: string(t.Status),
	})
}

func (e Engine) GetTask(ctx context.Context, actorID, taskID int64) (domain.Task, error) {
	actor, t, err := e.loadTask(ctx, actorID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.canViewTask(actor, t, policy.ViewTask); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTaskLogs returns the task's history, most recent first.
func (e Engine) GetTaskLogs(ctx context.Context, actorID, taskID int64) ([]domain.LogRecord, error) {
	actor, t, err := e.loadTask(ctx, actorID, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.canViewTask(actor, t, policy.ViewTaskLogs); err != nil {
		return nil, err
	}
	logs, err := e.Audit.List(ctx, domain.KindTask, t.ID)
	if err != nil {
		return nil, apperr.Internal(err, "list task logs")
	}
	if logs == nil {
		logs = []domain.LogRecord{}
	}
	return logs, nil
}

func (e Engine) TaskImage(ctx context.Context, actorID, taskID int64, original bool) (*domain.Attachment, error) {
	if _, err := e.GetTask(ctx, actorID, taskID); err != nil {
		return nil, err
	}
	img, err := e.Repo.GetTaskImage(ctx, taskID, original)
	if err != nil {
		return nil, storeErr(err, "task", taskID)
	}
	if img.Empty() {
		return nil, apperr.NotFound("task %d has no image", taskID)
	}
	return img, nil
}

func (e Engine) TaskLogImage(ctx context.Context, actorID, logID int64) (*domain.Attachment, error) {
	taskID, img, err := e.Audit.Image(ctx, domain.KindTask, logID)
	if err != nil {
		return nil, storeErr(err, "task log", logID)
	}
	actor, t, err := e.loadTask(ctx, actorID, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.canViewTask(actor, t, policy.ViewTaskLogs); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, apperr.NotFound("task log %d has no image", logID)
	}
	return img, nil
}
