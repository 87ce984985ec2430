package circuit

import (
	"runtime"

	"github.com/go-logr/logr"
)

// DefaultMaxFixpointRounds is the default round limit of recursive scopes.
const DefaultMaxFixpointRounds = 1000

// Options configures an executor.
type Options struct {
	// Logger is the logger of the executor. Defaults to a discarding logger.
	Logger logr.Logger

	// MaxFixpointRounds bounds the number of rounds a recursive scope may take to converge in a
	// single tick. Defaults to DefaultMaxFixpointRounds.
	MaxFixpointRounds int

	// Parallelism is the maximum number of nodes of a topological level evaluated concurrently.
	// Defaults to GOMAXPROCS.
	Parallelism int

	// LenientWeights disables the over-deletion check on delta inputs. Min/max aggregates reject
	// the deletion of absent group members regardless.
	LenientWeights bool
}

func (o Options) withDefaults() Options {
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	if o.MaxFixpointRounds <= 0 {
		o.MaxFixpointRounds = DefaultMaxFixpointRounds
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	return o
}
