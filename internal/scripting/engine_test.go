package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestPainTextFromScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pain.lua", `
function pain_text(source, intensity, value)
  return source .. "/" .. intensity
end`)

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "hunger/severe", e.PainText("hunger", "severe", 25))
}

func TestMissingScriptDirUsesFallbacks(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.NotEmpty(t, e.PainText("thirst", "agony", 3))
	assert.NotEmpty(t, e.DeathText("starvation"))
	assert.Equal(t, "Ada stepped off the train.", e.EventText("arrival", "Ada"))
	assert.Empty(t, e.EventText("unknown_kind", "Ada"))
}

func TestScriptErrorFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", `
function pain_text(source, intensity, value)
  error("boom")
end`)

	e, err := NewEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.NotEmpty(t, e.PainText("hunger", "mild", 50))
}

func TestBundledScripts(t *testing.T) {
	e, err := NewEngine("../../scripts", zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	assert.Contains(t, e.PainText("hunger", "agony", 2), "starving")
	assert.Contains(t, e.DeathText("dehydration"), "dry")
	assert.Equal(t, "Ada stepped off the train.", e.EventText("arrival", "Ada"))
	assert.Empty(t, e.EventText("unknown_kind", "Ada"))
}
