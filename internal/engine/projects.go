package engine

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"

	"bugtrail/internal/apperr"
	"bugtrail/internal/domain"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

// RegisterUser adds a user. Identity checks happen outside the engine, so
// there is no acting user here.
func (e Engine) RegisterUser(ctx context.Context, username, email, role string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, apperr.Invalid("username is required")
	}
	r, ok := domain.ParseRole(role)
	if !ok {
		return domain.User{}, apperr.Invalid("invalid role %q", role)
	}
	email = strings.TrimSpace(email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.User{}, apperr.Invalid("invalid email %q", email)
		}
	}
	u, err := e.Repo.InsertUser(ctx, domain.User{Username: username, Email: email, Role: r, CreatedAt: e.now()})
	if errors.Is(err, repo.ErrDuplicate) {
		return domain.User{}, apperr.Conflict("username %q is taken", username)
	}
	if err != nil {
		return domain.User{}, apperr.Internal(err, "insert user")
	}
	e.log().Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// WhoAmI resolves a user id to the user.
func (e Engine) WhoAmI(ctx context.Context, actorID int64) (domain.User, error) {
	return e.actor(ctx, actorID)
}

// LookupUser resolves a numeric id or a username.
func (e Engine) LookupUser(ctx context.Context, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return e.actor(ctx, id)
	}
	u, err := e.Repo.GetUserByUsername(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, apperr.NotFound("user %q not found", ref)
	}
	if err != nil {
		return domain.User{}, apperr.Internal(err, "load user %q", ref)
	}
	return u, nil
}

// ListUsers lists users, optionally of one role.
func (e Engine) ListUsers(ctx context.Context, actorID int64, role string) ([]domain.User, error) {
	if _, err := e.actor(ctx, actorID); err != nil {
		return nil, err
	}
	var r domain.Role
	if role != "" {
		var ok bool
		if r, ok = domain.ParseRole(role); !ok {
			return nil, apperr.Invalid("invalid role %q", role)
		}
	}
	users, err := e.Repo.ListUsers(ctx, r)
	if err != nil {
		return nil, apperr.Internal(err, "list users")
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// CreateProject makes the acting admin the project's owner.
func (e Engine) CreateProject(ctx context.Context, actorID int64, name, description string) (domain.Project, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := authorize(policy.Request{Action: policy.CreateProject, Role: actor.Role}); err != nil {
		return domain.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, apperr.Invalid("project name is required")
	}
	p, err := e.Repo.InsertProject(ctx, domain.Project{Name: name, Description: description, OwnerID: actor.ID, CreatedAt: e.now()})
	if err != nil {
		return domain.Project{}, apperr.Internal(err, "insert project")
	}
	e.log().Info("project created", "project_id", p.ID, "owner_id", actor.ID)
	return p, nil
}

// ListProjects returns the projects an admin owns; other roles see all.
func (e Engine) ListProjects(ctx context.Context, actorID int64) ([]domain.Project, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var owner int64
	if actor.Role == domain.RoleAdmin {
		owner = actor.ID
	}
	projects, err := e.Repo.ListProjects(ctx, owner)
	if err != nil {
		return nil, apperr.Internal(err, "list projects")
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return projects, nil
}

// AddProjectMember records a developer or tester as working on a project.
// Only the owning admin may do this.
func (e Engine) AddProjectMember(ctx context.Context, actorID, projectID, userID int64) (domain.Member, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Member{}, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Member{}, storeErr(err, "project", projectID)
	}
	if err := authorize(policy.Request{Action: policy.AddProjectMember, Role: actor.Role, IsCreator: p.OwnerID == actor.ID}); err != nil {
		return domain.Member{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Member{}, storeErr(err, "user", userID)
	}
	if u.Role != domain.RoleDeveloper && u.Role != domain.RoleTester {
		return domain.Member{}, apperr.Invalid("only developers and testers can be project members")
	}
	m := domain.Member{ProjectID: p.ID, UserID: u.ID, Role: u.Role}
	if err := e.Repo.UpsertMember(ctx, m); err != nil {
		return domain.Member{}, apperr.Internal(err, "add member")
	}
	return m, nil
}

func (e Engine) ListMembers(ctx context.Context, actorID, projectID int64) ([]domain.Member, error) {
	if _, err := e.actor(ctx, actorID); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, storeErr(err, "project", projectID)
	}
	members, err := e.Repo.ListMembers(ctx, projectID)
	if err != nil {
		return nil, apperr.Internal(err, "list members")
	}
	if members == nil {
		members = []domain.Member{}
	}
	return members, nil
}
