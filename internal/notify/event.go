// Package notify renders workflow events into mail and delivers them off the
// request path. Delivery problems are logged and never reach the caller.
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type EventType string

const (
	BugCreated    EventType = "bug.created"
	BugAssigned   EventType = "bug.assigned"
	BugReassigned EventType = "bug.reassigned"
	BugResolved   EventType = "bug.resolved"
	BugClosed     EventType = "bug.closed"
	TaskCreated   EventType = "task.created"
	TaskAssigned  EventType = "task.assigned"
	TaskClosed    EventType = "task.closed"
)

// Fields feed the subject and body templates.
type Fields struct {
	Project     string
	Title       string
	Description string
	Priority    string
	Resolution  string
	Creator     string
	Actor       string
}

// Event is what the engine emits after a transition commits.
type Event struct {
	Type     EventType
	EntityID int64
	To       string
	Cc       []string
	Fields   Fields
}

// Mail is a rendered message ready for a Sender.
type Mail struct {
	Event   EventType
	To      string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var templates = map[EventType]mailTemplate{
	BugCreated: mustTemplate("bug_created",
		`New Bug Created in '{{.Project}}': {{.Title}}`,
		`A new bug has been created in your project '{{.Project}}'.
Title: {{.Title}}
Description: {{.Description}}
Priority: {{.Priority}}
Created by: {{.Actor}}
Please assign this bug to a developer.`),
	BugAssigned: mustTemplate("bug_assigned",
		`Bug Assigned in '{{.Project}}': {{.Title}}`,
		`You have been assigned a new bug in your project.
Title: {{.Title}}
Description: {{.Description}}
Priority: {{.Priority}}
Project: {{.Project}}
Created by: {{.Creator}}
Please take action on this bug.`),
	BugReassigned: mustTemplate("bug_reassigned",
		`Bug Reassigned in '{{.Project}}': {{.Title}}`,
		`Your bug '{{.Title}}' has been reassigned to you.
Description: {{.Description}}
Priority: {{.Priority}}
Project: {{.Project}}
Created by: {{.Creator}}
Reassigned by: {{.Actor}}`),
	BugResolved: mustTemplate("bug_resolved",
		`Bug Resolved in '{{.Project}}': {{.Title}}`,
		`Your bug '{{.Title}}' has been resolved.
Description: {{.Description}}
Resolution: {{.Resolution}}
Project: {{.Project}}
Created by: {{.Creator}}
Resolved by: {{.Actor}}`),
	BugClosed: mustTemplate("bug_closed",
		`Bug Closed in '{{.Project}}': {{.Title}}`,
		`Your bug '{{.Title}}' has been closed.
Description: {{.Description}}
Resolution: {{.Resolution}}
Project: {{.Project}}
Created by: {{.Creator}}
Closed by: {{.Actor}}`),
	TaskCreated: mustTemplate("task_created",
		`New Task Created in '{{.Project}}': {{.Title}}`,
		`A new task has been created in your project '{{.Project}}'.
Title: {{.Title}}
Description: {{.Description}}
Priority: {{.Priority}}
Created by: {{.Actor}}
Please assign this task to a tester.`),
	TaskAssigned: mustTemplate("task_assigned",
		`Task Assigned in '{{.Project}}': {{.Title}}`,
		`You have been assigned a new task in your project.
Title: {{.Title}}
Description: {{.Description}}
Priority: {{.Priority}}
Project: {{.Project}}
Created by: {{.Creator}}
Please take action on this task.`),
	TaskClosed: mustTemplate("task_closed",
		`Task Closed in '{{.Project}}': {{.Title}}`,
		`The task '{{.Title}}' has been closed.
Description: {{.Description}}
Project: {{.Project}}
Closed by: {{.Actor}}`),
}

// Render turns an event into a mail using the built-in templates.
func Render(ev Event) (Mail, error) {
	tpl, ok := templates[ev.Type]
	if !ok {
		return Mail{}, fmt.Errorf("no template for event %q", ev.Type)
	}
	var subj, body bytes.Buffer
	if err := tpl.subject.Execute(&subj, ev.Fields); err != nil {
		return Mail{}, fmt.Errorf("render %s subject: %w", ev.Type, err)
	}
	if err := tpl.body.Execute(&body, ev.Fields); err != nil {
		return Mail{}, fmt.Errorf("render %s body: %w", ev.Type, err)
	}
	return Mail{
		Event:   ev.Type,
		To:      ev.To,
		Cc:      ev.Cc,
		Subject: strings.TrimSpace(subj.String()),
		Body:    body.String(),
	}, nil
}

// CcIfDifferent returns []string{addr} unless addr is empty or equals to.
func CcIfDifferent(to, addr string) []string {
	if addr == "" || strings.EqualFold(addr, to) {
		return nil
	}
	return []string{addr}
}
