package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

// BugPath is embedded in bug inputs; huma only binds exported embedded structs.
type BugPath struct {
	BugID int64 `path:"bug_id"`
}

// imageOutput streams an attachment as-is.
type imageOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func image(a *domain.Attachment) *imageOutput {
	return &imageOutput{ContentType: a.ContentType, Body: a.Data}
}

func registerBugs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-bug",
		Method:        http.MethodPost,
		Path:          "/bugs",
		Summary:       "File a bug",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateBugRequest `json:"body"`
	}) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBug(ctx, actorID, engine.BugCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Image:       input.Body.Image.attachment(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bugs",
		Method:      http.MethodGet,
		Path:        "/bugs",
		Summary:     "List visible bugs that have not breached",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `query:"project_id"`
		Status    string `query:"status"`
		Priority  string `query:"priority"`
		Days      int    `query:"days" doc:"only bugs created in the last N days"`
		Order     string `query:"order" doc:"created (default) or priority"`
	}) (*output[listBugs], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.BugListOptions{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			Priority:  input.Priority,
			Days:      input.Days,
		}
		switch strings.ToLower(input.Order) {
		case "", "created":
		case "priority":
			opts.ByPriority = true
		default:
			return nil, newAPIError(http.StatusBadRequest, "", "order must be created or priority", map[string]any{"order": input.Order})
		}
		bugs, err := e.ListBugs(ctx, actorID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listBugs{Items: bugs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-breached-bugs",
		Method:      http.MethodGet,
		Path:        "/bugs/breached",
		Summary:     "List bugs that overran the status time budget",
		Errors:      operationErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[listBugs], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bugs, err := e.ListBreachedBugs(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listBugs{Items: bugs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bug",
		Method:      http.MethodGet,
		Path:        "/bugs/{bug_id}",
		Summary:     "Get bug",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *BugPath) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBug(ctx, actorID, input.BugID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-bug",
		Method:      http.MethodPost,
		Path:        "/bugs/{bug_id}/assign",
		Summary:     "Assign or reassign a bug to a developer",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Body AssignBugRequest `json:"body"`
	}) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.AssignBug(ctx, actorID, input.BugID, input.Body.DeveloperID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-bug-status",
		Method:      http.MethodPost,
		Path:        "/bugs/{bug_id}/status",
		Summary:     "Move an assigned bug forward",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Body UpdateBugStatusRequest `json:"body"`
	}) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.UpdateBugStatus(ctx, actorID, input.BugID, engine.BugStatusUpdate{
			Status:     input.Body.Status,
			Resolution: input.Body.Resolution,
			Image:      input.Body.Image.attachment(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	registerTesterAction(api, "reopen-bug", "/bugs/{bug_id}/reopen", "Reopen a resolved bug", e.ReopenBug)
	registerTesterAction(api, "close-bug", "/bugs/{bug_id}/close", "Close a resolved bug", e.CloseBugByTester)

	huma.Register(api, huma.Operation{
		OperationID: "reassign-bug-by-tester",
		Method:      http.MethodPost,
		Path:        "/bugs/{bug_id}/reassign",
		Summary:     "Send a resolved bug back to a project developer",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Body ReassignBugRequest `json:"body"`
	}) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ReassignBugByTester(ctx, actorID, input.BugID, input.Body.DeveloperID, engine.TesterAction{
			Text:  input.Body.Text,
			Image: input.Body.Image.attachment(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-bug-log",
		Method:        http.MethodPost,
		Path:          "/bugs/{bug_id}/logs",
		Summary:       "Annotate a bug without changing its status",
		DefaultStatus: http.StatusCreated,
		Errors:        operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Body AddLogRequest `json:"body"`
	}) (*output[domain.LogRecord], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.AddBugLog(ctx, actorID, input.BugID, input.Body.Text, input.Body.Image.attachment())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bug-logs",
		Method:      http.MethodGet,
		Path:        "/bugs/{bug_id}/logs",
		Summary:     "Bug history, newest first",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *BugPath) (*output[listLogs], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		logs, err := e.GetBugLogs(ctx, actorID, input.BugID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(listLogs{Items: logs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bug-image",
		Method:      http.MethodGet,
		Path:        "/bugs/{bug_id}/image",
		Summary:     "Current bug image, or the original with original=true",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Original bool `query:"original"`
	}) (*imageOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		img, err := e.BugImage(ctx, actorID, input.BugID, input.Original)
		if err != nil {
			return nil, handleError(err)
		}
		return image(img), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bug-log-image",
		Method:      http.MethodGet,
		Path:        "/bug-logs/{log_id}/image",
		Summary:     "Image attached to a bug log record",
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		LogID int64 `path:"log_id"`
	}) (*imageOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		img, err := e.BugLogImage(ctx, actorID, input.LogID)
		if err != nil {
			return nil, handleError(err)
		}
		return image(img), nil
	})
}

type testerActionFunc func(ctx context.Context, actorID, bugID int64, in engine.TesterAction) (domain.Bug, error)

// registerTesterAction exposes the creator-only actions on a RESOLVED bug.
// The body is optional.
func registerTesterAction(api huma.API, id, route, summary string, fn testerActionFunc) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      operationErrors,
	}, func(ctx context.Context, input *struct {
		BugPath
		Body *TesterActionRequest `json:"body" required:"false"`
	}) (*output[domain.Bug], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		text, img := testerAction(input.Body)
		b, err := fn(ctx, actorID, input.BugID, engine.TesterAction{Text: text, Image: img})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})
}
