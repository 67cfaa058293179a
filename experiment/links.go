package experiment

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/spf13/afero"
)

// LinkGroup adds a symlink to a run in a group directory,
// creating the group if needed.
func LinkGroup(fs afero.Fs, groupDir, runDir string) error {
	if err := fs.MkdirAll(groupDir, 0755); err != nil {
		return errors.Wrap(err, "link group")
	}
	target, err := filepath.Abs(runDir)
	if err != nil {
		return errors.Wrap(err, "link group")
	}
	return symlink(fs, target, filepath.Join(groupDir, filepath.Base(runDir)))
}

// LinkBestCheckpoints links the best classifier files of
// the parent directory of runDir into runDir.
//
// The best epoch is resolved in the parent's store, so
// stale copies left by an interrupted save are not linked.
// The links are relative, so a whole experiment tree can
// be moved.
// It returns the linked file names.
func LinkBestCheckpoints(fs afero.Fs, runDir string) ([]string, error) {
	parent := filepath.Dir(runDir)
	if ok, err := afero.DirExists(fs, parent); err != nil || !ok {
		return nil, errors.Errorf("link best checkpoints: no directory %s", parent)
	}
	role := config.ClassifierRole
	epoch, err := checkpoint.NewStore(fs, parent, nil).Resolve(checkpoint.BestFile, role)
	if err != nil {
		var resErr *checkpoint.ResolutionError
		if errors.As(err, &resErr) && len(resErr.Matches) == 0 {
			return nil, nil
		}
		return nil, errors.Wrap(err, "link best checkpoints")
	}
	var linked []string
	for _, name := range []string{checkpoint.NetFile(role, epoch), checkpoint.OptimFile(role, epoch)} {
		name += checkpoint.BestSuffix
		if ok, err := afero.Exists(fs, filepath.Join(parent, name)); err != nil {
			return nil, errors.Wrap(err, "link best checkpoints")
		} else if !ok {
			continue
		}
		err := symlink(fs, filepath.Join("..", name), filepath.Join(runDir, name))
		if err != nil {
			return nil, err
		}
		linked = append(linked, name)
	}
	return linked, nil
}

func symlink(fs afero.Fs, target, name string) error {
	linker, ok := fs.(afero.Linker)
	if !ok {
		return errors.Errorf("symlink %s: filesystem %s has no symlinks", name, fs.Name())
	}
	return errors.Wrap(linker.SymlinkIfPossible(target, name), "symlink")
}
