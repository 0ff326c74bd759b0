package engine

import (
	"errors"

	"github.com/reelforge/orchestrator/internal/subprocess"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
)

// classifySubprocessError turns a subprocess.Result's ErrorKind into the
// shared taxonomy, consulting the program's own permanent-stderr
// patterns before defaulting non-zero-exit to retriable (spec.md §4.4,
// §7).
func classifySubprocessError(err error, inv subprocess.Invocation) orcherrors.Kind {
	var res *subprocess.Result
	if !errors.As(err, &res) {
		return orcherrors.KindRetriableTransient
	}
	switch res.Kind {
	case subprocess.ErrorTimeout:
		return orcherrors.KindRetriableTransient
	case subprocess.ErrorSpawnFailed:
		return orcherrors.KindInfrastructure
	case subprocess.ErrorNonZeroExit:
		if inv.IsPermanentFailure(res.Stderr) {
			return orcherrors.KindPermanentClient
		}
		return orcherrors.KindRetriableTransient
	default:
		return orcherrors.KindRetriableTransient
	}
}
