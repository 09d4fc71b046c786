package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"bugtrail/internal/apperr"
	"bugtrail/internal/domain"
	"bugtrail/internal/notify"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

type BugCreateOptions struct {
	ProjectID   int64
	Title       string
	Description string
	Priority    string
	Image       *domain.Attachment
}

// CreateBug files a new OPEN bug. Only testers may create bugs.
func (e Engine) CreateBug(ctx context.Context, actorID int64, opts BugCreateOptions) (domain.Bug, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Bug{}, err
	}
	if err := authorize(policy.Request{Action: policy.CreateBug, Role: actor.Role}); err != nil {
		return domain.Bug{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Bug{}, apperr.Invalid("title is required")
	}
	priority, ok := domain.ParseBugPriority(opts.Priority)
	if !ok {
		return domain.Bug{}, apperr.Invalid("invalid bug priority %q", opts.Priority)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Bug{}, storeErr(err, "project", opts.ProjectID)
	}

	now := e.now()
	b := domain.Bug{
		ProjectID:        opts.ProjectID,
		Title:            title,
		Description:      opts.Description,
		Priority:         priority,
		Status:           domain.BugOpen,
		CreatedAt:        now,
		LastStatusChange: now,
		CreatorID:        actor.ID,
	}
	if !opts.Image.Empty() {
		b.Image = opts.Image
		b.OriginalImage = opts.Image
	}
	err = e.inTx(ctx, "create bug", func(tx *sql.Tx) error {
		var err error
		if b, err = e.Repo.InsertBugTx(ctx, tx, b); err != nil {
			return err
		}
		_, err = e.Audit.Append(ctx, tx, domain.LogRecord{
			EntityKind: domain.KindBug, EntityID: b.ID, ActorID: actor.ID,
			Status: string(b.Status), Text: b.Description, Image: b.Image, Timestamp: now,
		})
		return err
	})
	if err != nil {
		return domain.Bug{}, err
	}
	b.Image, b.OriginalImage = nil, nil
	e.log().Info("bug created", "bug_id", b.ID, "project_id", b.ProjectID, "actor_id", actor.ID)

	project, ownerEmail := e.projectInfo(ctx, b.ProjectID)
	e.emit(notify.Event{
		Type: notify.BugCreated, EntityID: b.ID, To: ownerEmail,
		Fields: e.bugFields(b, project, actor.Username, actor.Username),
	})
	return b, nil
}

// AssignBug hands a bug to a developer. Admins may assign any bug that is
// not CLOSED; the current assignee may pass it on.
func (e Engine) AssignBug(ctx context.Context, actorID, bugID, developerID int64) (domain.Bug, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return b, err
	}
	if err := authorize(policy.Request{
		Action: policy.AssignBug, Role: actor.Role,
		IsCreator: b.CreatorID == actor.ID, IsAssignee: b.IsAssignee(actor.ID), Status: string(b.Status),
	}); err != nil {
		return b, err
	}
	dev, err := e.Repo.GetUser(ctx, developerID)
	if err != nil {
		return b, storeErr(err, "user", developerID)
	}
	if dev.Role != domain.RoleDeveloper {
		return b, apperr.Invalid("user %s is not a developer", dev.Username)
	}

	text := "Reassigning bug to: " + dev.Username
	if actor.Role == domain.RoleAdmin {
		text = "Assigned to developer: " + dev.Username
	}
	b, err = e.transitionBug(ctx, "assign bug", actor, b, bugChange{status: domain.BugAssigned, assignee: &dev.ID, text: text})
	if err != nil {
		return b, err
	}
	project, _ := e.projectInfo(ctx, b.ProjectID)
	e.emit(notify.Event{
		Type: notify.BugAssigned, EntityID: b.ID, To: dev.Email,
		Fields: e.bugFields(b, project, e.username(ctx, b.CreatorID), actor.Username),
	})
	return b, nil
}

type BugStatusUpdate struct {
	Status     string
	Resolution string
	Image      *domain.Attachment
}

// developerTransitions lists the moves the assignee may make directly.
var developerTransitions = map[domain.BugStatus][]domain.BugStatus{
	domain.BugAssigned:   {domain.BugInProgress, domain.BugResolved},
	domain.BugInProgress: {domain.BugResolved, domain.BugClosed},
	domain.BugResolved:   {domain.BugClosed},
}

func developerMayMove(from, to domain.BugStatus) bool {
	for _, s := range developerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateBugStatus is the assignee's general status change. RESOLVED needs a
// resolution text; input is checked before anything is written.
func (e Engine) UpdateBugStatus(ctx context.Context, actorID, bugID int64, upd BugStatusUpdate) (domain.Bug, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return b, err
	}
	if err := authorize(policy.Request{
		Action: policy.UpdateBugStatus, Role: actor.Role,
		IsCreator: b.CreatorID == actor.ID, IsAssignee: b.IsAssignee(actor.ID), Status: string(b.Status),
	}); err != nil {
		return b, err
	}
	if strings.TrimSpace(upd.Status) == "" {
		return b, apperr.Invalid("status is required")
	}
	to, ok := domain.ParseBugStatus(upd.Status)
	if !ok {
		return b, apperr.Invalid("invalid bug status %q", upd.Status)
	}
	resolution := strings.TrimSpace(upd.Resolution)
	if to == domain.BugResolved && resolution == "" {
		return b, apperr.Invalid("resolution is required when resolving a bug")
	}
	if !developerMayMove(b.Status, to) {
		return b, apperr.Conflict("cannot move bug from %s to %s", b.Status, to)
	}

	b, err = e.transitionBug(ctx, "update bug status", actor, b, bugChange{
		status: to, resolution: resolution, text: resolution, image: upd.Image, replaceImage: true,
	})
	if err != nil {
		return b, err
	}
	switch to {
	case domain.BugResolved:
		e.notifyCreator(ctx, notify.BugResolved, b, actor)
	case domain.BugClosed:
		e.notifyCreator(ctx, notify.BugClosed, b, actor)
	}
	return b, nil
}

// TesterAction carries the optional note and image a tester attaches when
// reopening, closing or reassigning a resolved bug.
type TesterAction struct {
	Text  string
	Image *domain.Attachment
}

// ReopenBug sends a RESOLVED bug back to IN_PROGRESS.
func (e Engine) ReopenBug(ctx context.Context, actorID, bugID int64, in TesterAction) (domain.Bug, error) {
	actor, b, err := e.testerOnResolved(ctx, policy.ReopenBug, actorID, bugID)
	if err != nil {
		return b, err
	}
	return e.transitionBug(ctx, "reopen bug", actor, b, bugChange{status: domain.BugInProgress, text: in.Text, image: in.Image})
}

// CloseBugByTester accepts the fix of a RESOLVED bug.
func (e Engine) CloseBugByTester(ctx context.Context, actorID, bugID int64, in TesterAction) (domain.Bug, error) {
	actor, b, err := e.testerOnResolved(ctx, policy.CloseBugByTester, actorID, bugID)
	if err != nil {
		return b, err
	}
	b, err = e.transitionBug(ctx, "close bug", actor, b, bugChange{status: domain.BugClosed, text: in.Text, image: in.Image})
	if err != nil {
		return b, err
	}
	e.notifyCreator(ctx, notify.BugClosed, b, actor)
	return b, nil
}

// ReassignBugByTester rejects a fix and gives the bug to another developer
// already working on the same project.
func (e Engine) ReassignBugByTester(ctx context.Context, actorID, bugID, developerID int64, in TesterAction) (domain.Bug, error) {
	actor, b, err := e.testerOnResolved(ctx, policy.ReassignBugByTester, actorID, bugID)
	if err != nil {
		return b, err
	}
	dev, err := e.Repo.GetUser(ctx, developerID)
	if err != nil {
		return b, storeErr(err, "user", developerID)
	}
	if dev.Role != domain.RoleDeveloper {
		return b, apperr.Invalid("user %s is not a developer", dev.Username)
	}
	member, err := e.Repo.IsMember(ctx, nil, b.ProjectID, dev.ID, domain.RoleDeveloper)
	if err != nil {
		return b, apperr.Internal(err, "check project membership")
	}
	if !member {
		return b, apperr.Invalid("developer %s is not assigned to project %d", dev.Username, b.ProjectID)
	}

	text := "Reassigning bug to: " + dev.Username
	if note := strings.TrimSpace(in.Text); note != "" {
		text += "\n" + note
	}
	b, err = e.transitionBug(ctx, "reassign bug", actor, b, bugChange{status: domain.BugAssigned, assignee: &dev.ID, text: text, image: in.Image})
	if err != nil {
		return b, err
	}
	project, _ := e.projectInfo(ctx, b.ProjectID)
	e.emit(notify.Event{
		Type: notify.BugReassigned, EntityID: b.ID, To: dev.Email,
		Fields: e.bugFields(b, project, actor.Username, actor.Username),
	})
	return b, nil
}

// AddBugLog records a free-standing note by the assignee. The bug itself is
// not changed; the record carries the current status.
func (e Engine) AddBugLog(ctx context.Context, actorID, bugID int64, text string, image *domain.Attachment) (domain.LogRecord, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return domain.LogRecord{}, err
	}
	if err := authorize(policy.Request{
		Action: policy.AddBugLog, Role: actor.Role,
		IsCreator: b.CreatorID == actor.ID, IsAssignee: b.IsAssignee(actor.ID), Status: string(b.Status),
	}); err != nil {
		return domain.LogRecord{}, err
	}
	rec := domain.LogRecord{
		EntityKind: domain.KindBug, EntityID: b.ID, ActorID: actor.ID,
		Status: string(b.Status), Text: text, Image: image, Timestamp: e.now(),
	}
	err = e.inTx(ctx, "add bug log", func(tx *sql.Tx) error {
		var err error
		rec, err = e.Audit.Append(ctx, tx, rec)
		return err
	})
	return rec, err
}

type bugChange struct {
	status     domain.BugStatus
	assignee   *int64
	resolution string
	text       string
	image      *domain.Attachment
	// replaceImage makes image the bug's current image as well.
	replaceImage bool
}

// transitionBug applies c to b, persists it and appends the matching log
// record in one transaction.
func (e Engine) transitionBug(ctx context.Context, op string, actor domain.User, b domain.Bug, c bugChange) (domain.Bug, error) {
	now := e.now()
	from := b.Status
	next := b
	next.Status = c.status
	next.LastStatusChange = now
	if c.assignee != nil {
		next.AssigneeID = c.assignee
	}
	if c.resolution != "" {
		next.Resolution = c.resolution
	}
	next.Image = nil
	if c.replaceImage && !c.image.Empty() {
		next.Image = c.image
		next.HasImage = true
	}
	var logImage *domain.Attachment
	if !c.image.Empty() {
		logImage = c.image
	}
	err := e.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateBugTx(ctx, tx, next); err != nil {
			return err
		}
		_, err := e.Audit.Append(ctx, tx, domain.LogRecord{
			EntityKind: domain.KindBug, EntityID: next.ID, ActorID: actor.ID,
			Status: string(next.Status), Text: c.text, Image: logImage, Timestamp: now,
		})
		return err
	})
	if err != nil {
		return b, err
	}
	next.Image = nil
	e.log().Info("bug transition", "bug_id", next.ID, "from", from, "to", next.Status, "actor_id", actor.ID)
	return next, nil
}

// loadBug resolves the actor and the bug and refreshes the breach flag.
func (e Engine) loadBug(ctx context.Context, actorID, bugID int64) (domain.User, domain.Bug, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return actor, domain.Bug{}, err
	}
	b, err := e.Repo.GetBug(ctx, bugID)
	if err != nil {
		return actor, b, storeErr(err, "bug", bugID)
	}
	if _, err := e.Breach.Check(ctx, &b, e.now()); err != nil {
		return actor, b, apperr.Internal(err, "breach check")
	}
	return actor, b, nil
}

func (e Engine) testerOnResolved(ctx context.Context, action policy.Action, actorID, bugID int64) (domain.User, domain.Bug, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return actor, b, err
	}
	err = authorize(policy.Request{
		Action: action, Role: actor.Role,
		IsCreator: b.CreatorID == actor.ID, IsAssignee: b.IsAssignee(actor.ID), Status: string(b.Status),
	})
	return actor, b, err
}

func (e Engine) bugFields(b domain.Bug, project, creator, actor string) notify.Fields {
	return notify.Fields{
		Project:     project,
		Title:       b.Title,
		Description: b.Description,
		Priority:    string(b.Priority),
		Resolution:  b.Resolution,
		Creator:     creator,
		Actor:       actor,
	}
}

// notifyCreator mails the bug's creator and copies the project owner when
// the two addresses differ.
func (e Engine) notifyCreator(ctx context.Context, typ notify.EventType, b domain.Bug, actor domain.User) {
	project, ownerEmail := e.projectInfo(ctx, b.ProjectID)
	to := e.email(ctx, b.CreatorID)
	e.emit(notify.Event{
		Type: typ, EntityID: b.ID, To: to, Cc: notify.CcIfDifferent(to, ownerEmail),
		Fields: e.bugFields(b, project, e.username(ctx, b.CreatorID), actor.Username),
	})
}

type BugListOptions struct {
	ProjectID int64
	Status    string
	Priority  string
	// Days keeps bugs created within the last Days days; 0 means no limit.
	Days int
	// ByPriority orders HIGH, MEDIUM, LOW then by id instead of newest first.
	ByPriority bool
}

// ListBugs returns the bugs the actor may see that are still within the
// breach budget. Admins see bugs of projects they own, testers the bugs they
// filed and developers the bugs assigned to them.
func (e Engine) ListBugs(ctx context.Context, actorID int64, opts BugListOptions) ([]domain.Bug, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authorize(policy.Request{Action: policy.ListItems, Role: actor.Role}); err != nil {
		return nil, err
	}
	now := e.now()
	notBreached := false
	f := repo.BugFilter{ProjectID: opts.ProjectID, Breached: &notBreached}
	switch actor.Role {
	case domain.RoleAdmin:
		f.OwnerID = actor.ID
	case domain.RoleTester:
		f.CreatorID = actor.ID
	case domain.RoleDeveloper:
		f.AssigneeID = actor.ID
	}
	if opts.Status != "" {
		st, ok := domain.ParseBugStatus(opts.Status)
		if !ok {
			return nil, apperr.Invalid("invalid bug status %q", opts.Status)
		}
		f.Status = st
	}
	if opts.Priority != "" {
		p, ok := domain.ParseBugPriority(opts.Priority)
		if !ok {
			return nil, apperr.Invalid("invalid bug priority %q", opts.Priority)
		}
		f.Priority = p
	}
	if opts.Days < 0 {
		return nil, apperr.Invalid("days must not be negative")
	}
	if opts.Days > 0 {
		f.Since = now.Add(-time.Duration(opts.Days) * 24 * time.Hour)
	}
	if opts.ByPriority {
		f.Order = repo.ByPriority
	}
	bugs, err := e.Repo.ListBugs(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list bugs")
	}
	ok, _, err := e.Breach.Partition(ctx, bugs, now)
	if err != nil {
		return nil, apperr.Internal(err, "breach check")
	}
	if ok == nil {
		ok = []domain.Bug{}
	}
	return ok, nil
}

// ListBreachedBugs first sweeps every unfinished bug through the breach
// check, then returns breached bugs newest first. Developers only see the
// ones assigned to them.
func (e Engine) ListBreachedBugs(ctx context.Context, actorID int64) ([]domain.Bug, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := authorize(policy.Request{Action: policy.ListItems, Role: actor.Role}); err != nil {
		return nil, err
	}
	notBreached := false
	pending, err := e.Repo.ListBugs(ctx, repo.BugFilter{Breached: &notBreached, Unfinished: true})
	if err != nil {
		return nil, apperr.Internal(err, "list bugs")
	}
	if _, _, err := e.Breach.Partition(ctx, pending, e.now()); err != nil {
		return nil, apperr.Internal(err, "breach check")
	}
	breached := true
	f := repo.BugFilter{Breached: &breached}
	if actor.Role == domain.RoleDeveloper {
		f.AssigneeID = actor.ID
	}
	bugs, err := e.Repo.ListBugs(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list breached bugs")
	}
	if bugs == nil {
		bugs = []domain.Bug{}
	}
	return bugs, nil
}

// GetBug returns one bug if the actor may view it.
func (e Engine) GetBug(ctx context.Context, actorID, bugID int64) (domain.Bug, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return domain.Bug{}, err
	}
	if err := e.canView(actor, b, policy.ViewBug); err != nil {
		return domain.Bug{}, err
	}
	return b, nil
}

func (e Engine) canView(actor domain.User, b domain.Bug, action policy.Action) error {
	return authorize(policy.Request{
		Action: action, Role: actor.Role,
		IsCreator: b.CreatorID == actor.ID, IsAssignee: b.IsAssignee(actor.ID), Status: string(b.Status),
	})
}

// GetBugLogs returns the bug's history, most recent first.
func (e Engine) GetBugLogs(ctx context.Context, actorID, bugID int64) ([]domain.LogRecord, error) {
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return nil, err
	}
	if err := e.canView(actor, b, policy.ViewBugLogs); err != nil {
		return nil, err
	}
	logs, err := e.Audit.List(ctx, domain.KindBug, b.ID)
	if err != nil {
		return nil, apperr.Internal(err, "list bug logs")
	}
	if logs == nil {
		logs = []domain.LogRecord{}
	}
	return logs, nil
}

// BugImage returns the current image, or the one the tester filed with when
// original is set.
func (e Engine) BugImage(ctx context.Context, actorID, bugID int64, original bool) (*domain.Attachment, error) {
	if _, err := e.GetBug(ctx, actorID, bugID); err != nil {
		return nil, err
	}
	img, err := e.Repo.GetBugImage(ctx, bugID, original)
	if err != nil {
		return nil, storeErr(err, "bug", bugID)
	}
	if img.Empty() {
		return nil, apperr.NotFound("bug %d has no image", bugID)
	}
	return img, nil
}

// BugLogImage returns the image attached to one bug log record.
func (e Engine) BugLogImage(ctx context.Context, actorID, logID int64) (*domain.Attachment, error) {
	bugID, img, err := e.Audit.Image(ctx, domain.KindBug, logID)
	if err != nil {
		return nil, storeErr(err, "bug log", logID)
	}
	actor, b, err := e.loadBug(ctx, actorID, bugID)
	if err != nil {
		return nil, err
	}
	if err := e.canView(actor, b, policy.ViewBugLogs); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, apperr.NotFound("bug log %d has no image", logID)
	}
	return img, nil
}
