package server

import (
	"errors"
	"net/http"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/snapshot"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/workspace"
)

// errBusy is returned when a run is already being repaired.
var errBusy = errors.New("a repair of this run is already in progress")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		patchErr   *runner.PatchError
		oracleErr  *runner.OracleError
		sandboxErr *runner.SandboxError
		missingErr *runner.MissingEntryFileError
		unknownErr *runner.UnknownEntryFileError
		pathErr    *snapshot.PathError
	)
	switch {
	case errors.Is(err, errBusy):
		return http.StatusConflict
	case errors.Is(err, runner.ErrRunNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, workspace.ErrInvalidRunID):
		return http.StatusNotFound
	case errors.As(err, &patchErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &oracleErr):
		return http.StatusBadGateway
	case errors.As(err, &sandboxErr):
		return http.StatusInternalServerError
	case errors.Is(err, workspace.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, runner.ErrEmptyProject),
		errors.Is(err, runner.ErrUnsupportedLanguage),
		errors.Is(err, workspace.ErrNoFiles),
		errors.As(err, &missingErr),
		errors.As(err, &unknownErr),
		errors.As(err, &pathErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorBody carries the message plus whatever the client needs to act on
// it: the project files for entry file errors, the raw reply for patches.
func errorBody(err error) map[string]any {
	body := map[string]any{"error": err.Error()}

	var (
		patchErr   *runner.PatchError
		missingErr *runner.MissingEntryFileError
		unknownErr *runner.UnknownEntryFileError
	)
	switch {
	case errors.As(err, &patchErr):
		body["iteration"] = patchErr.Iteration
		body["model_response"] = patchErr.Raw
	case errors.As(err, &missingErr):
		body["files"] = missingErr.Files
	case errors.As(err, &unknownErr):
		body["files"] = unknownErr.Files
	}
	return body
}
