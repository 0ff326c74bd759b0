package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

func TestRun_SuccessCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "echo out-line\necho err-line 1>&2\nexit 0\n")
	sup := New(dir, time.Second, 0)

	res, err := sup.Run(context.Background(), "ok.sh", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ErrorNone, res.Kind)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "out-line")
	assert.Contains(t, res.Stderr, "err-line")
}

func TestRun_NonZeroExitClassified(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", "echo boom 1>&2\nexit 7\n")
	sup := New(dir, time.Second, 0)

	res, err := sup.Run(context.Background(), "fail.sh", nil, 0)
	require.Error(t, err)
	assert.Equal(t, ErrorNonZeroExit, res.Kind)
	assert.Equal(t, 7, res.ExitCode)
	assert.Contains(t, res.Stderr, "boom")
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "slow.sh", "sleep 5\n")
	sup := New(dir, time.Second, 0)

	start := time.Now()
	res, err := sup.Run(context.Background(), "slow.sh", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, ErrorTimeout, res.Kind)
	assert.Less(t, elapsed, 4*time.Second, "timeout should fire well before the script's own sleep")
}

func TestRun_SpawnFailedForMissingProgram(t *testing.T) {
	dir := t.TempDir()
	sup := New(dir, time.Second, 0)

	res, err := sup.Run(context.Background(), "does-not-exist.sh", nil, 0)
	require.Error(t, err)
	assert.Equal(t, ErrorSpawnFailed, res.Kind)
}

func TestRun_TruncatesOversizedOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "noisy.sh", "for i in $(seq 1 5000); do echo 'line of text that repeats'; done\n")
	sup := New(dir, time.Second, 256)

	res, err := sup.Run(context.Background(), "noisy.sh", nil, 0)
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "truncated")
	assert.LessOrEqual(t, len(res.Stdout)-len("\n...[truncated, output exceeded capture limit]..."), 256)
}
