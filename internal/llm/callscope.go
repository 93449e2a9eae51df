package llm

import (
	"context"

	"github.com/google/uuid"
)

type scopeKey struct{}

// CallScope identifies the session and patient a model call ran for. The
// zero value means the call was made outside any session pipeline.
type CallScope struct {
	SessionID *uuid.UUID
	PatientID *uuid.UUID
}

// WithCallScope stamps the pipeline's session and patient onto the context
// so the call observer can attribute every model call it records.
func WithCallScope(ctx context.Context, sessionID, patientID uuid.UUID) context.Context {
	sid, pid := sessionID, patientID
	return context.WithValue(ctx, scopeKey{}, CallScope{SessionID: &sid, PatientID: &pid})
}

func ScopeFrom(ctx context.Context) CallScope {
	scope, _ := ctx.Value(scopeKey{}).(CallScope)
	return scope
}
