package flowsma

import (
	"context"
	"strings"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/pkg/logger"
	"github.com/flowsma/record-importer/internal/pkg/retry"
)

// Lookup is the outcome of a duplicate check. Err records a swallowed
// listing failure; when set, Found is false and the caller proceeds as
// if the record were new.
type Lookup struct {
	Found bool
	Match *Record
	Err   error
}

// Resolver answers "does a record with this reference text already
// exist in the workflow". The server-side pattern filter is fuzzy, so
// matching is re-done client-side: exact trimmed comparison first,
// case-insensitive as a fallback.
type Resolver struct {
	client  *Client
	session *Session
	exec    *retry.Executor
	flow    config.FlowConfig
}

// NewResolver creates a Resolver scoped to one workflow.
func NewResolver(client *Client, session *Session, exec *retry.Executor, flow config.FlowConfig) *Resolver {
	return &Resolver{client: client, session: session, exec: exec, flow: flow}
}

// Exists checks the workflow for a record matching referenceText.
// Listing failures never abort an import: after retries are exhausted
// the error is recorded on the Lookup and the record is treated as new.
func (r *Resolver) Exists(ctx context.Context, referenceText string) Lookup {
	ref := strings.TrimSpace(referenceText)
	if ref == "" {
		return Lookup{}
	}

	if r.session.IsExpiring() {
		if err := r.session.Login(ctx, true); err != nil {
			logger.Warn("session renewal before duplicate check failed", "error", err.Error())
		}
	}

	var resp *ListResponse
	err := r.exec.Do(ctx, "getRegistroCabList", func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.client.ListRecords(ctx, r.session.Token(),
			DefaultListQuery(r.flow.FlowID, r.flow.StatusID, ref))
		return callErr
	})
	if err != nil {
		logger.Warn("duplicate check failed, treating record as new",
			"reference", ref, "error", err.Error())
		return Lookup{Err: err}
	}

	for i := range resp.Rows {
		if strings.TrimSpace(resp.Rows[i].ReferenceText) == ref {
			return Lookup{Found: true, Match: &resp.Rows[i]}
		}
	}
	lowerRef := strings.ToLower(ref)
	for i := range resp.Rows {
		if strings.ToLower(strings.TrimSpace(resp.Rows[i].ReferenceText)) == lowerRef {
			return Lookup{Found: true, Match: &resp.Rows[i]}
		}
	}
	return Lookup{}
}
