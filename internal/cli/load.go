package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/store"
)

// LatestSession names the most recent session wherever a session id
// is expected.
const LatestSession = "latest"

// newRegistry returns the standard functions plus the request functions.
func newRegistry() (*eval.Registry, error) {
	r, err := eval.NewStdRegistry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create registry", err)
	}
	if err := channel.RegisterRequests(r); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register requests", err)
	}
	return r, nil
}

// loadDocument reads an XML document. Warnings are returned for the
// caller to report; only an unreadable file is an error.
func loadDocument(registry *eval.Registry, path string) (*document.Document, []document.Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open document", err)
	}
	defer f.Close()

	doc, warnings, err := document.Load(registry, f)
	if err != nil {
		return nil, warnings, WrapExitError(ExitCommandError, "failed to load document", err)
	}
	for _, w := range warnings {
		slog.Warn("document warning", "path", path, "warning", w.String())
	}
	return doc, warnings, nil
}

// openJournal opens an existing journal database.
func openJournal(path string) (*store.Store, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path), err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// resolveSession looks up a session id, or the latest session for
// LatestSession.
func resolveSession(ctx context.Context, st *store.Store, id string) (store.Session, error) {
	var (
		sess store.Session
		err  error
	)
	if id == LatestSession {
		sess, err = st.LatestSession(ctx)
	} else {
		sess, err = st.ReadSession(ctx, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sess, NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", id))
	}
	if err != nil {
		return sess, WrapExitError(ExitCommandError, "failed to read session", err)
	}
	return sess, nil
}
