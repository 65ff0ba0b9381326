package jira

import (
	"context"
	"fmt"
	"strings"
)

// HeaderFailed heads the comment the daemon posts when a handler fails.
const HeaderFailed = "AI ACTION FAILED"

// commenter is the subset of Client the Notifier writes through.
type commenter interface {
	AddComment(ctx context.Context, issueKey, body string) (*Comment, error)
}

// Notifier posts categorized comments. Every comment starts with a fixed
// header line underlined with '='; the header doubles as the marker that
// later actions search for.
type Notifier struct {
	client commenter
}

// NewNotifier creates a new Jira notifier
func NewNotifier(client commenter) *Notifier {
	return &Notifier{client: client}
}

// FormatComment renders header, its underline, and body.
func FormatComment(header, body string) string {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", len(header)))
	if body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(body)
	}
	return sb.String()
}

// Post writes a headed comment.
func (n *Notifier) Post(ctx context.Context, issueKey, header, body string) error {
	if _, err := n.client.AddComment(ctx, issueKey, FormatComment(header, body)); err != nil {
		return fmt.Errorf("failed to add %q comment: %w", header, err)
	}
	return nil
}

// PostFailure reports a failed action by label and error kind only.
func (n *Notifier) PostFailure(ctx context.Context, issueKey, label, kind string) error {
	body := fmt.Sprintf("*Label:* %s\n*Error:* %s\n\nThe label was removed. Re-add it to try again.", label, kind)
	return n.Post(ctx, issueKey, HeaderFailed, body)
}
