package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/config"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = "2026-01-02"

// project sets up an empty project directory with the shared role policy
// and runs tests from inside it.
func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WritePolicy(t, filepath.Join(dir, "configs"))
	testutil.WriteFile(t, filepath.Join(dir, config.ConfigFileName), "pii_secret: cli-secret\n")
	t.Chdir(dir)
	t.Setenv(config.LegacyRoleEnv, "")
	t.Setenv(config.LegacySecretEnv, "")
	return dir
}

// lakegov runs one command on a fresh root, as a new process would.
func lakegov(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := lakegov(t, args...)
	require.NoError(t, err, "lakegov %v", args)
	return out
}

func TestPipeline(t *testing.T) {
	dir := project(t)

	out := mustRun(t, "init", "--role", "admin")
	assert.Contains(t, out, "Initialized lake and audit ledger")
	assert.DirExists(t, filepath.Join(dir, "data_lake", "raw"))
	assert.FileExists(t, filepath.Join(dir, "warehouse", config.AuditFileName))

	assert.Contains(t, mustRun(t, "seed", "--role", "admin"), "(4 rows)")

	out = mustRun(t, "ingest", "--role", "engineer", "--dt", dt)
	assert.Contains(t, out, "Ingest complete run_id=")
	assert.Contains(t, out, "(3 rows)")
	assert.Contains(t, out, "(1 rows)")

	for _, stage := range []string{"clean", "curate", "serve"} {
		assert.Contains(t, mustRun(t, stage, "--role", "engineer", "--dt", dt), "complete run_id=")
	}
	mustRun(t, "build-identity", "--role", "admin", "--dt", dt)

	out = mustRun(t, "export-audience", "--role", "activation", "--min-events", "2", "--dt", dt, "-o", "json")
	var exp struct {
		ExportID   string `json:"export_id"`
		OutputPath string `json:"output_path"`
		Rows       int64  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, int64(1), exp.Rows)
	data, err := os.ReadFile(exp.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "dt,min_events,user_id,email\n"+dt+",2,u1,u1@example.com\n", string(data))

	out = mustRun(t, "gdpr", "request", "--role", "privacy_officer", "--user-id", "u1")
	assert.Contains(t, out, "GDPR request fulfilled: request_id=")

	var runs []audit.Run
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "runs", "list", "--role", "privacy_officer", "--limit", "0", "-o", "json")), &runs))
	require.Len(t, runs, 7)
	assert.Equal(t, audit.PipelineGDPRDelete, runs[0].Pipeline)
	for _, run := range runs {
		assert.Equal(t, audit.RunStatusSuccess, run.Status, run.Pipeline)
	}

	out = mustRun(t, "runs", "show", runs[0].RunID, "--role", "privacy_officer")
	assert.Contains(t, out, "pipeline: gdpr_delete")

	var edges []lineage.Edge
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "lineage", "--role", "privacy_officer", "-o", "json")), &edges))
	assert.NotEmpty(t, edges)

	assert.Contains(t, mustRun(t, "exports", "list", "--role", "privacy_officer"), exp.ExportID)
	assert.Contains(t, mustRun(t, "gdpr", "list", "--role", "privacy_officer", "--user-id", "u1"), "FULFILLED")
	assert.Contains(t, mustRun(t, "exports", "recover", "--role", "admin"), "No interrupted exports")
}

func TestExitCodes(t *testing.T) {
	project(t)
	mustRun(t, "init", "--role", "admin")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "access denied", args: []string{"clean", "--role", "analyst", "--dt", dt}, want: ExitAccessDenied},
		{name: "missing input", args: []string{"clean", "--role", "engineer", "--dt", dt}, want: ExitMissingInput},
		{name: "bad config", args: []string{"runs", "list", "--log-level", "loud"}, want: ExitConfiguration},
		{name: "audit read denied", args: []string{"runs", "list", "--role", "analyst"}, want: ExitAccessDenied},
		{name: "unknown run", args: []string{"runs", "show", "nope", "--role", "admin"}, want: ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lakegov(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, ExitCode(err))
		})
	}
}

func TestLegacyRoleEnv(t *testing.T) {
	project(t)
	t.Setenv(config.LegacyRoleEnv, "analyst")

	_, err := lakegov(t, "init")
	assert.Equal(t, ExitAccessDenied, ExitCode(err))

	t.Setenv(config.LegacyRoleEnv, "admin")
	mustRun(t, "init")
}

func TestLogFile(t *testing.T) {
	dir := project(t)
	logPath := filepath.Join(dir, "logs", "lakegov.log")

	mustRun(t, "init", "--role", "admin", "--log-file", logPath, "--log-level", "debug")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lake initialized")
}
