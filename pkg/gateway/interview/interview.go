// Package interview drives the text interview endpoints: a conversational
// interviewer seeded with the candidate's resume, and an assessment of the
// finished transcript.
package interview

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

const assessmentRequest = "Write the assessment for this interview."

var (
	ErrNotConfigured = errors.New("interview: no language model configured")
	ErrEmptyResume   = errors.New("interview: resume is required")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Resume   string    `json:"resume"`
	Messages []Message `json:"messages"`
}

// InvalidMessageError reports a message the model cannot accept.
type InvalidMessageError struct {
	Index  int
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("interview: messages[%d]: %s", e.Index, e.Reason)
}

// Completer produces the next model turn for a system prompt and history.
type Completer interface {
	Complete(ctx context.Context, system string, history []Message) (string, error)
}

type Service struct {
	completer Completer
}

// NewService returns a Service. A nil completer yields ErrNotConfigured
// from every call.
func NewService(c Completer) *Service {
	return &Service{completer: c}
}

func (s *Service) Configured() bool {
	return s != nil && s.completer != nil
}

// Chat returns the interviewer's next turn.
func (s *Service) Chat(ctx context.Context, req Request) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(req.Resume) == "" {
		return "", ErrEmptyResume
	}
	if err := validate(req.Messages); err != nil {
		return "", err
	}
	system, err := render("interview.tmpl", req)
	if err != nil {
		return "", err
	}
	history := req.Messages
	if len(history) == 0 {
		// Models need at least one user turn to open the conversation.
		history = []Message{{Role: RoleUser, Content: "Hello, I'm ready to begin."}}
	}
	return s.completer.Complete(ctx, system, history)
}

// Feedback assesses the conversation so far.
func (s *Service) Feedback(ctx context.Context, req Request) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if err := validate(req.Messages); err != nil {
		return "", err
	}
	system, err := render("assessment.tmpl", req)
	if err != nil {
		return "", err
	}
	return s.completer.Complete(ctx, system, []Message{{Role: RoleUser, Content: assessmentRequest}})
}

func validate(msgs []Message) error {
	for i, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return &InvalidMessageError{Index: i, Reason: fmt.Sprintf("unsupported role %q", m.Role)}
		}
		if strings.TrimSpace(m.Content) == "" {
			return &InvalidMessageError{Index: i, Reason: "content is empty"}
		}
	}
	return nil
}

func render(name string, req Request) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, req); err != nil {
		return "", fmt.Errorf("interview: render %s: %w", name, err)
	}
	return buf.String(), nil
}
