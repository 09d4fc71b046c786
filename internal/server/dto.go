package server

import (
	"strings"

	"bugtrail/internal/domain"
)

// Request payloads

// ImageInput carries an attachment; data is base64 in JSON.
type ImageInput struct {
	ContentType string `json:"content_type,omitempty" example:"image/png"`
	Data        []byte `json:"data"`
}

type RegisterUserRequest struct {
	Username string `json:"username" minLength:"1"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role" example:"TESTER"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type AddMemberRequest struct {
	UserID int64 `json:"user_id"`
}

type CreateBugRequest struct {
	ProjectID   int64       `json:"project_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Priority    string      `json:"priority" example:"HIGH"`
	Image       *ImageInput `json:"image,omitempty"`
}

type AssignBugRequest struct {
	DeveloperID int64 `json:"developer_id"`
}

type UpdateBugStatusRequest struct {
	Status     string      `json:"status" example:"RESOLVED"`
	Resolution string      `json:"resolution,omitempty"`
	Image      *ImageInput `json:"image,omitempty"`
}

type TesterActionRequest struct {
	Text  string      `json:"text,omitempty"`
	Image *ImageInput `json:"image,omitempty"`
}

type ReassignBugRequest struct {
	DeveloperID int64       `json:"developer_id"`
	Text        string      `json:"text,omitempty"`
	Image       *ImageInput `json:"image,omitempty"`
}

type AddLogRequest struct {
	Text  string      `json:"text,omitempty"`
	Image *ImageInput `json:"image,omitempty"`
}

type CreateTaskRequest struct {
	ProjectID   int64       `json:"project_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Priority    string      `json:"priority" example:"MEDIUM"`
	Image       *ImageInput `json:"image,omitempty"`
}

type AssignTaskRequest struct {
	TesterID int64 `json:"tester_id"`
}

type CloseTaskRequest struct {
	Comment string      `json:"comment,omitempty"`
	Image   *ImageInput `json:"image,omitempty"`
}

type DevLoginRequest struct {
	UserID int64 `json:"user_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type listUsers struct {
	Items []domain.User `json:"items"`
}

type listProjects struct {
	Items []domain.Project `json:"items"`
}

type listMembers struct {
	Items []domain.Member `json:"items"`
}

type listBugs struct {
	Items []domain.Bug `json:"items"`
}

type listTasks struct {
	Items []domain.Task `json:"items"`
}

type listLogs struct {
	Items []domain.LogRecord `json:"items"`
}

// Conversion helpers

func (in *ImageInput) attachment() *domain.Attachment {
	if in == nil || len(in.Data) == 0 {
		return nil
	}
	ct := strings.TrimSpace(in.ContentType)
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &domain.Attachment{ContentType: ct, Data: in.Data}
}

func testerAction(in *TesterActionRequest) (text string, img *domain.Attachment) {
	if in == nil {
		return "", nil
	}
	return in.Text, in.Image.attachment()
}
