// Package requestctx provides request-scoped values (e.g. the authenticated
// subject) set by middleware.
package requestctx

import "context"

type contextKey string

const (
	subjectIDKey    contextKey = "subject_id"
	subjectEmailKey contextKey = "subject_email"
	threadIDKey     contextKey = "thread_id"
	workspaceIDKey  contextKey = "workspace_id"
)

// SetSubject stores the authenticated subject id and email in the context.
func SetSubject(ctx context.Context, id, email string) context.Context {
	ctx = context.WithValue(ctx, subjectIDKey, id)
	return context.WithValue(ctx, subjectEmailKey, email)
}

// SubjectID returns the subject id from context, or "" if not set.
func SubjectID(ctx context.Context) string {
	v, _ := ctx.Value(subjectIDKey).(string)
	return v
}

// SubjectEmail returns the subject email from context, or "" if not set.
func SubjectEmail(ctx context.Context) string {
	v, _ := ctx.Value(subjectEmailKey).(string)
	return v
}

// SetThreadID stores the conversation thread id in the context.
func SetThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

// ThreadID returns the thread id from context, or "" if not set.
func ThreadID(ctx context.Context) string {
	v, _ := ctx.Value(threadIDKey).(string)
	return v
}

// SetWorkspaceID stores the workspace id in the context.
func SetWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// WorkspaceID returns the workspace id from context, or "" if not set.
func WorkspaceID(ctx context.Context) string {
	v, _ := ctx.Value(workspaceIDKey).(string)
	return v
}
