package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/cli"
)

func run(t *testing.T, args ...string) *cli.Error {
	t.Helper()
	return cli.Run(context.Background(), append([]string{"kioku"}, args...))
}

func TestStoreReindexRetrieve(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--owner", "agent-1",
		"--storage", "file",
		"--storage-dir", filepath.Join(dir, "collections"),
		"--repository", "sqlite",
		"--sqlite-path", filepath.Join(dir, "kioku.db"),
		"--log-level", "error",
	}

	gt.True(t, run(t, append([]string{"store"}, append(common, "Mi perro se llama Toby y le encanta la playa")...)...) == nil)
	gt.True(t, run(t, append([]string{"store"}, append(common, "Trabajo como enfermera en Sevilla")...)...) == nil)

	// collection artifacts were persisted on close
	_, err := os.Stat(filepath.Join(dir, "collections", "collections", "agent-1", "index.json"))
	gt.NoError(t, err)

	gt.True(t, run(t, append([]string{"clear"}, common...)...) == nil)
	gt.True(t, run(t, append([]string{"reindex"}, common...)...) == nil)
	gt.True(t, run(t, append([]string{"stats"}, common...)...) == nil)
	gt.True(t, run(t, append([]string{"retrieve"}, append(common, "perro Toby")...)...) == nil)
	gt.True(t, run(t, append([]string{"handle"}, append(common, "¿Te acuerdas de mi perro?")...)...) == nil)
}

func TestStoreRejectedByPolicy(t *testing.T) {
	dir := t.TempDir()
	err := run(t, "store",
		"--owner", "agent-1",
		"--storage", "file",
		"--storage-dir", dir,
		"--repository", "",
		"--log-level", "error",
		"ok")
	gt.True(t, err != nil)
	gt.Equal(t, err.Code, 1)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.yaml")
	gt.NoError(t, os.WriteFile(fixture, []byte(`owner_id: agent-1
subject_id: user-1
messages:
  - role: user
    content: Me mudé a Valencia el año pasado
    created_at: 2026-01-10T10:00:00Z
  - role: user
    content: gracias
events:
  - type: milestone
    summary: El usuario empezó un trabajo nuevo
    importance: 0.8
    occurred_at: 2026-02-01T09:00:00Z
facts:
  - category: preference
    key: comida favorita
    value: paella
`), 0o644))

	gt.True(t, run(t, "import",
		"--input", fixture,
		"--storage", "file",
		"--storage-dir", filepath.Join(dir, "collections"),
		"--repository", "sqlite",
		"--sqlite-path", filepath.Join(dir, "kioku.db"),
		"--log-level", "error",
	) == nil)
}

func TestDetect(t *testing.T) {
	gt.True(t, run(t, "detect", "--log-level", "error", "¿Recuerdas lo que te conté?") == nil)
}

func TestUnknownEmbedder(t *testing.T) {
	err := run(t, "stats", "--owner", "agent-1", "--embedder", "nope", "--storage", "", "--repository", "", "--log-level", "error")
	gt.True(t, err != nil)
}
