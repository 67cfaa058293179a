package experiment

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
)

// GitDiffFile returns the name of the patch that records
// the uncommitted changes of a run's source tree.
func GitDiffFile(hash string) string {
	return fmt.Sprintf("git_diff_%s.patch", hash)
}

// WriteGitDiff saves the uncommitted changes of the git
// repository containing repoDir into runDir, so that a run
// can be reproduced.
// Untracked files are not recorded.
//
// It returns the hash of the HEAD commit.
func WriteGitDiff(fs afero.Fs, repoDir, runDir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(repoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", errors.Wrap(err, "git diff")
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "git diff")
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", errors.Wrap(err, "git diff")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", errors.Wrap(err, "git diff")
	}
	status, err := wt.Status()
	if err != nil {
		return "", errors.Wrap(err, "git diff")
	}

	var paths []string
	for path, s := range status {
		if s.Worktree == git.Untracked ||
			(s.Worktree == git.Unmodified && s.Staging == git.Unmodified) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	for _, path := range paths {
		old, err := committedContents(commit, path)
		if err != nil {
			return "", errors.Wrapf(err, "git diff %s", path)
		}
		cur, err := worktreeContents(wt, path)
		if err != nil {
			return "", errors.Wrapf(err, "git diff %s", path)
		}
		writeFileDiff(&buf, path, old, cur)
	}

	hash := head.Hash().String()
	name := filepath.Join(runDir, GitDiffFile(hash))
	if err := afero.WriteFile(fs, name, buf.Bytes(), 0644); err != nil {
		return "", errors.Wrap(err, "git diff")
	}
	return hash, nil
}

func committedContents(commit *object.Commit, path string) (string, error) {
	f, err := commit.File(path)
	if err == object.ErrFileNotFound {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return f.Contents()
}

func worktreeContents(wt *git.Worktree, path string) (string, error) {
	f, err := wt.Filesystem.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	return string(data), err
}

const diffContext = 3

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

func lineDiff(old, cur string) []diffLine {
	dmp := diffmatchpatch.New()
	oldChars, curChars, lines := dmp.DiffLinesToChars(old, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, curChars, false), lines)
	var res []diffLine
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				res = append(res, diffLine{op: d.Type, text: line})
			}
		}
	}
	return res
}

// writeFileDiff writes the unified diff of one file.
func writeFileDiff(w io.Writer, path, old, cur string) {
	lines := lineDiff(old, cur)

	// Positions before each line, in either version.
	oldPos := make([]int, len(lines)+1)
	curPos := make([]int, len(lines)+1)
	keep := make([]bool, len(lines))
	for i, l := range lines {
		oldPos[i+1], curPos[i+1] = oldPos[i], curPos[i]
		if l.op != diffmatchpatch.DiffInsert {
			oldPos[i+1]++
		}
		if l.op != diffmatchpatch.DiffDelete {
			curPos[i+1]++
		}
		if l.op != diffmatchpatch.DiffEqual {
			for j := i - diffContext; j <= i+diffContext; j++ {
				if j >= 0 && j < len(lines) {
					keep[j] = true
				}
			}
		}
	}

	fmt.Fprintf(w, "diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n", path, path, path, path)
	for i := 0; i < len(lines); {
		if !keep[i] {
			i++
			continue
		}
		end := i
		for end < len(lines) && keep[end] {
			end++
		}
		oldCount := oldPos[end] - oldPos[i]
		curCount := curPos[end] - curPos[i]
		fmt.Fprintf(w, "@@ -%d,%d +%d,%d @@\n", hunkStart(oldPos[i], oldCount), oldCount,
			hunkStart(curPos[i], curCount), curCount)
		for _, l := range lines[i:end] {
			switch l.op {
			case diffmatchpatch.DiffEqual:
				io.WriteString(w, " ")
			case diffmatchpatch.DiffDelete:
				io.WriteString(w, "-")
			case diffmatchpatch.DiffInsert:
				io.WriteString(w, "+")
			}
			io.WriteString(w, l.text)
			if !strings.HasSuffix(l.text, "\n") {
				io.WriteString(w, "\n\\ No newline at end of file\n")
			}
		}
		i = end
	}
}

func hunkStart(before, count int) int {
	if count == 0 {
		return before
	}
	return before + 1
}
