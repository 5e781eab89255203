package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCmd_SingleFile(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeDoc(t, "doc.md", sampleDoc)

	out, err := execute(t, "--config", env.configPath, "index", path)
	require.NoError(t, err, out)

	assert.Contains(t, out, "doc.md")
	assert.Contains(t, out, "Indexed 1 of 1 files")
}

func TestIndexCmd_Directory(t *testing.T) {
	env := newCLIEnv(t)
	docs := filepath.Join(env.dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.md"), []byte(sampleDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.md"), []byte(sampleDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "notes.txt"), []byte("skipped"), 0o644))

	out, err := execute(t, "--config", env.configPath, "index", docs)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Indexed 2 of 2 files")
}

func TestIndexCmd_MissingFile(t *testing.T) {
	env := newCLIEnv(t)

	_, err := execute(t, "--config", env.configPath, "index", filepath.Join(env.dir, "absent.md"))
	assert.Error(t, err)
}

func TestIndexCmd_UnsupportedExtension(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeDoc(t, "doc.pdf", "binary")

	out, err := execute(t, "--config", env.configPath, "index", path)
	require.Error(t, err)
	assert.Contains(t, out, "unsupported file type")
}

func TestCollectDocFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	for _, name := range []string{"a.md", "b.json", "c.txt", ".git/d.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := collectDocFiles([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.json"),
	}, files)
}

func TestCollectDocFiles_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	files, err := collectDocFiles([]string{path, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}
