package port

import (
	"context"

	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"
)

// InputPoller decodes one VE.Direct input. Poll and Snapshot are called from
// a single goroutine. Err is non-nil once the input stopped delivering lines
// and has to be reopened.
type InputPoller interface {
	Open(ctx context.Context) error
	Close() error
	Poll() *vedirect.ChangeSet
	Snapshot() *vedirect.ChangeSet
	Err() error
}
