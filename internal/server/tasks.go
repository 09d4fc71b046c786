package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

type TaskPath struct {
	TaskID int64 `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actorID, engine.TaskCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Image:       input.Body.Image.attachment(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `query:"project_id"`
		Status    string `query:"status"`
	}) (*output[listTasks], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListTasks(ctx, actorID, engine.TaskListOptions{ProjectID: input.ProjectID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listTasks{Items: tasks}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *TaskPath) (*output[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign a task to a tester",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AssignTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, actorID, input.TaskID, input.Body.TesterID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/close",
		Summary:     "Close a task",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body *CloseTaskRequest `json:"body" required:"false"`
	}) (*output[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var comment string
		var img *domain.Attachment
		if input.Body != nil {
			comment = input.Body.Comment
			img = input.Body.Image.attachment()
		}
		t, err := e.CloseTaskByTester(ctx, actorID, input.TaskID, comment, img)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-logs",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/logs",
		Summary:     "Task history, newest first",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *TaskPath) (*output[listLogs], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		logs, err := e.GetTaskLogs(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listLogs{Items: logs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-image",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/image",
		Summary:     "Current task image, or the original with original=true",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Original bool `query:"original"`
	}) (*imageOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		img, err := e.TaskImage(ctx, actorID, input.TaskID, input.Original)
		if err != nil {
			return nil, handleError(err)
		}
		return image(img), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-log-image",
		Method:      http.MethodGet,
		Path:        "/task-logs/{log_id}/image",
		Summary:     "Image attached to a task log record",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		LogID int64 `path:"log_id"`
	}) (*imageOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		img, err := e.TaskLogImage(ctx, actorID, input.LogID)
		if err != nil {
			return nil, handleError(err)
		}
		return image(img), nil
	})
}
