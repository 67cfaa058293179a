package experiment

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestWriteFileDiff(t *testing.T) {
	var buf bytes.Buffer
	writeFileDiff(&buf, "x.go", "a\nb\nc\n", "a\nB\nc\n")
	require.Equal(t, "diff --git a/x.go b/x.go\n--- a/x.go\n+++ b/x.go\n"+
		"@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n", buf.String())

	old := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n"
	cur := "0\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n"
	buf.Reset()
	writeFileDiff(&buf, "n", old, cur)
	require.Equal(t, "diff --git a/n b/n\n--- a/n\n+++ b/n\n"+
		"@@ -1,3 +1,4 @@\n+0\n 1\n 2\n 3\n"+
		"@@ -9,4 +10,3 @@\n 9\n 10\n 11\n-12\n", buf.String())

	buf.Reset()
	writeFileDiff(&buf, "new", "", "x")
	require.Equal(t, "diff --git a/new b/new\n--- a/new\n+++ b/new\n"+
		"@@ -0,0 +1,1 @@\n+x\n\\ No newline at end of file\n", buf.String())
}

func TestWriteGitDiff(t *testing.T) {
	dir, err := ioutil.TempDir("", "gitdiff_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, contents := range map[string]string{"a.txt": "one\ntwo\n", "b.txt": "same\n"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n2\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("u\n"), 0644))
	runDir := filepath.Join(dir, "experiments", "run")
	require.NoError(t, os.MkdirAll(runDir, 0755))

	fs := afero.NewOsFs()
	actual, err := WriteGitDiff(fs, runDir, runDir)
	require.NoError(t, err)
	require.Equal(t, hash.String(), actual)

	data, err := afero.ReadFile(fs, filepath.Join(runDir, GitDiffFile(actual)))
	require.NoError(t, err)
	require.Equal(t, "diff --git a/a.txt b/a.txt\n--- a/a.txt\n+++ b/a.txt\n"+
		"@@ -1,2 +1,2 @@\n one\n-two\n+2\n", string(data))

	_, err = WriteGitDiff(fs, os.TempDir(), runDir)
	require.Error(t, err)
}
