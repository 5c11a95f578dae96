package engine

import (
	"errors"
	"io/fs"
	"os"

	"github.com/basesync/basesync/internal/remote"
)

// ErrorKind classifies a caught error for the execution record.
type ErrorKind string

const (
	KindCredential      ErrorKind = "credential"
	KindLock            ErrorKind = "lock"
	KindRemoteTransient ErrorKind = "remote-transient"
	KindRemotePermanent ErrorKind = "remote-permanent"
	KindSchemaMismatch  ErrorKind = "schema-mismatch"
	KindInvariant       ErrorKind = "invariant-violation"
	KindLocalIO         ErrorKind = "local-io"
	KindProgrammer      ErrorKind = "programmer"
)

// Issue is one entry in the execution record's errors or warnings list.
// Every caught error contributes exactly one Issue; re-wrapping along the
// call chain does not double-count.
type Issue struct {
	Database  string    `json:"database,omitempty"`
	Component string    `json:"component"`
	Row       string    `json:"row,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// classify maps an error to its taxonomy kind.
func classify(err error) ErrorKind {
	switch {
	case remote.IsAuth(err):
		return KindCredential
	case remote.IsTransient(err):
		return KindRemoteTransient
	case errors.As(err, new(*remote.APIError)):
		return KindRemotePermanent
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrExist), errors.As(err, new(*os.PathError)),
		errors.As(err, new(*os.LinkError)):
		return KindLocalIO
	default:
		return KindRemotePermanent
	}
}
