package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestMain(m *testing.M) {
	os.Setenv("STORAGE_DRIVER", "memory")
	os.Setenv("LOG_LEVEL", "error")
	os.Setenv("INVOCATION_TIMEOUT_SECONDS", "10")
	os.Exit(m.Run())
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"thumbnailer"}, args...))
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := runApp(t, "plan", "photos-incoming", "2024/cat.jpg")
	require.NoError(t, err)

	assert.Contains(t, out, "primary:  s3://photos-processed/2024/cat.jpg")
	assert.Contains(t, out, "archive:  s3://photos-raw/2024/cat.jpg")
	assert.Contains(t, out, "delete:   true")
}

func TestPlanCommandRejectsSelfTrigger(t *testing.T) {
	_, err := runApp(t, "plan", "photos", "cat.jpg")
	assert.Error(t, err)

	_, err = runApp(t, "plan", "only-bucket")
	assert.Error(t, err)
}

func TestProcessCommandWithSeededMemoryStore(t *testing.T) {
	dir := t.TempDir()
	seedDir := filepath.Join(dir, "objects")
	require.NoError(t, os.MkdirAll(seedDir, 0o755))

	f, err := os.Create(filepath.Join(seedDir, "cat.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 120, 80))))
	require.NoError(t, f.Close())

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"Records":[{"s3":{"bucket":{"name":"photos-incoming"},"object":{"key":"cat.png"}}}]}`), 0o644))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"Records":[]}`), 0o644))

	out, err := runApp(t, "process", "--seed-dir", seedDir, good)
	require.NoError(t, err)

	var line struct {
		File    string `json:"file"`
		Success bool   `json:"success"`
		State   string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &line))
	assert.Equal(t, good, line.File)
	assert.True(t, line.Success)
	assert.Equal(t, "completed", line.State)

	_, err = runApp(t, "process", bad)
	require.Error(t, err)
	exit, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 1, exit.ExitCode())
}

func TestProcessCommandNeedsFiles(t *testing.T) {
	_, err := runApp(t, "process")
	assert.Error(t, err)

	_, err = runApp(t, "process", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
