// Package ssh reads facts from remote hosts over SSH. Commands run in exec
// sessions and files are read through SFTP.
package ssh

import (
	"context"

	"github.com/openfroyo/hostfacts/pkg/source"
)

// Transport is what a remote pass needs from a connection: its lifecycle,
// a liveness check and the source.Runner methods.
type Transport interface {
	source.Runner

	Connect(ctx context.Context) error
	Disconnect() error

	// HealthCheck runs a no-op command in a fresh session.
	HealthCheck(ctx context.Context) error
}

// TransportError wraps a failed connection operation. Op names the step,
// such as "connect", "exec" or "read".
type TransportError struct {
	Op  string
	Err error

	// IsTemporary is set for network failures worth retrying.
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
