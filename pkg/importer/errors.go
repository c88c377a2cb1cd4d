package importer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/lichen/pkg/easydb"
	"github.com/Ramsey-B/lichen/pkg/mapping"
)

var (
	// ErrImportFailed matches every error returned by the orchestrator
	ErrImportFailed = errors.New("import failed")
	// ErrInvalidInput is returned for raw records without a global object id
	ErrInvalidInput = errors.New("invalid input")
)

// Kind classifies why an import failed
type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindNoMappingFound    Kind = "NoMappingFound"
	KindRemoteFetchFailed Kind = "RemoteFetchFailed"
	KindMappingFailed     Kind = "MappingFailed"
	KindPersistenceFailed Kind = "PersistenceFailed"
)

// Retryable reports whether repeating the import without an upstream or configuration change
// may succeed.
func (k Kind) Retryable() bool {
	return k == KindRemoteFetchFailed || k == KindPersistenceFailed
}

// ImportFailedError wraps any failure with the identity that was being imported.
type ImportFailedError struct {
	Identity string
	Kind     Kind
	Err      error
}

func (e *ImportFailedError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrImportFailed, e.Identity, e.Kind, e.Err)
}

func (e *ImportFailedError) Unwrap() []error {
	return []error{ErrImportFailed, e.Err}
}

func (e *ImportFailedError) Retryable() bool {
	var remote *easydb.RemoteError
	if e.Kind == KindRemoteFetchFailed && errors.As(e.Err, &remote) {
		return remote.Retryable()
	}
	return e.Kind.Retryable()
}

// StatusCode maps the failure onto an HTTP status for API callers.
func (e *ImportFailedError) StatusCode() int {
	switch e.Kind {
	case KindInvalidInput, KindMappingFailed:
		return http.StatusUnprocessableEntity
	case KindNoMappingFound:
		return http.StatusBadRequest
	case KindRemoteFetchFailed:
		if errors.Is(e.Err, easydb.ErrObjectNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError renders the failure for the echo error middleware.
func (e *ImportFailedError) ToHTTPError() error {
	return httperror.NewHTTPError(e.StatusCode(), e.Error())
}

// classify picks the kind for an error that escaped a pipeline stage.
func classify(err error) Kind {
	var importErr *ImportFailedError
	switch {
	case errors.As(err, &importErr):
		return importErr.Kind
	case errors.Is(err, ErrInvalidInput), errors.Is(err, mapping.ErrMissingNaturalKey):
		return KindInvalidInput
	case errors.Is(err, mapping.ErrNoMappingFound):
		return KindNoMappingFound
	case errors.Is(err, easydb.ErrRemoteFetchFailed):
		return KindRemoteFetchFailed
	case errors.Is(err, errMapping):
		return KindMappingFailed
	default:
		return KindPersistenceFailed
	}
}

// errMapping marks errors returned by a Mapping so they are told apart from store errors.
var errMapping = errors.New("mapping failed")

// wrap returns err as an *ImportFailedError for identity. An err that already is one is
// returned unchanged.
func wrap(identity string, err error) error {
	if err == nil {
		return nil
	}
	var importErr *ImportFailedError
	if errors.As(err, &importErr) {
		return err
	}
	return &ImportFailedError{Identity: identity, Kind: classify(err), Err: err}
}
