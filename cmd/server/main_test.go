package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := buildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := buildCLI()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "run", "jobs", "history", "stats", "validate"} {
		assert.Contains(t, names, want)
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "-n", "3", "0 6 * * *")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "0 6 * * *")
	for _, line := range lines[1:] {
		assert.Contains(t, line, "06:00:00")
	}
}

func TestValidateCommandRejectsBadExpression(t *testing.T) {
	_, err := execute(t, "validate", "61 * * * *")
	assert.Error(t, err)
}

func TestValidateCommandRejectsNonPositiveCount(t *testing.T) {
	for _, n := range []string{"0", "-1"} {
		_, err := execute(t, "validate", "--count="+n, "* * * * *")
		require.Error(t, err, "count %s", n)
		assert.Contains(t, err.Error(), "--count")
	}
}

func TestValidateCommandNeverFires(t *testing.T) {
	out, err := execute(t, "validate", "0 0 31 2 *")
	require.NoError(t, err)
	assert.Contains(t, out, "Never fires")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "disk full on register 2", oneLine("disk full\non register 2"))

	long := strings.Repeat("ü", 60)
	got := oneLine(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRunRequiresJobName(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `database:
  driver: sqlite3
  url: ` + filepath.Join(dir, "scheduler.db") + `
logging:
  level: error
jobs:
  - name: prune-job-logs
    description: Remove old execution history
    schedule: "0 3 * * *"
    enabled: true
  - name: nightly-report
    schedule: "0 1 * * *"
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestJobsAndRunAgainstSQLite(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "-c", path, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "prune-job-logs")
	assert.Contains(t, out, "nightly-report")

	out, err = execute(t, "-c", path, "run", "prune-job-logs")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")

	out, err = execute(t, "-c", path, "history", "--job", "prune-job-logs")
	require.NoError(t, err)
	assert.Contains(t, out, "manual")

	out, err = execute(t, "-c", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total:    2")
	assert.Contains(t, out, "Success:  1")
}
