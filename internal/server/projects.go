package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

// output wraps a JSON response body.
type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] { return &output[T]{Body: v} }

type ProjectPath struct {
	ProjectID int64 `path:"project_id"`
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterUserRequest `json:"body"`
	}) (*output[domain.User], error) {
		u, err := e.RegisterUser(ctx, input.Body.Username, input.Body.Email, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" doc:"ADMIN, TESTER or DEVELOPER"`
	}) (*output[listUsers], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx, actorID, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listUsers{Items: users}), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, actorID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      operationErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[listProjects], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projects, err := e.ListProjects(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listProjects{Items: projects}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add a developer or tester to a project",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body AddMemberRequest `json:"body"`
	}) (*output[domain.Member], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddProjectMember(ctx, actorID, input.ProjectID, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *ProjectPath) (*output[listMembers], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := e.ListMembers(ctx, actorID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listMembers{Items: members}), nil
	})
}
