package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reelforge/orchestrator/internal/subprocess"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
)

func TestClassifySubprocessError(t *testing.T) {
	assetInv := subprocess.Invocations[0]

	cases := []struct {
		name string
		err  error
		want orcherrors.Kind
	}{
		{"timeout is retriable", &subprocess.Result{Kind: subprocess.ErrorTimeout}, orcherrors.KindRetriableTransient},
		{"spawn failure is infrastructure", &subprocess.Result{Kind: subprocess.ErrorSpawnFailed}, orcherrors.KindInfrastructure},
		{"non-zero exit with ordinary stderr is retriable", &subprocess.Result{Kind: subprocess.ErrorNonZeroExit, Stderr: "disk full, try again"}, orcherrors.KindRetriableTransient},
		{"non-zero exit with permanent stderr is permanent", &subprocess.Result{Kind: subprocess.ErrorNonZeroExit, Stderr: "error: invalid api key"}, orcherrors.KindPermanentClient},
		{"non-Result error (e.g. context cancellation) is retriable", context.Canceled, orcherrors.KindRetriableTransient},
		{"plain wrapped error is retriable", errors.New("boom"), orcherrors.KindRetriableTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySubprocessError(tc.err, assetInv)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifySubprocessError_InputValidationIsPermanent(t *testing.T) {
	assetInv := subprocess.Invocations[0]
	err := &subprocess.Result{Kind: subprocess.ErrorNonZeroExit, Stderr: "malformed story input"}
	assert.Equal(t, orcherrors.KindPermanentClient, classifySubprocessError(err, assetInv))
}
