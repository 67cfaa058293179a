package experiment

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func tempRoot(t *testing.T, exps ...string) string {
	root, err := ioutil.TempDir("", "experiment_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })
	for _, exp := range exps {
		require.NoError(t, os.MkdirAll(Dir(root, exp), 0755))
	}
	return root
}

func TestResolveParent(t *testing.T) {
	root := tempRoot(t, "FC100_Base/FC100_Gen", "FC100_Other", "MNIST_Base")
	require.NoError(t, ioutil.WriteFile(filepath.Join(Dir(root, "MNIST_Base"), "FC100_x"),
		nil, 0644))

	for pattern, expected := range map[string]string{
		"FC100_Base/FC100_Gen":   "FC100_Base/FC100_Gen",
		"FC100_Base/":            "FC100_Base",
		"FC100_B*/*":             "FC100_Base/FC100_Gen",
		"**/FC100_G*":            "FC100_Base/FC100_Gen",
		"MNIST*":                 "MNIST_Base",
		"FC100_Base/FC100_Gen/.": "FC100_Base/FC100_Gen",
	} {
		actual, err := ResolveParent(root, pattern)
		require.NoError(t, err, pattern)
		require.Equal(t, filepath.FromSlash(expected), actual, pattern)
	}

	for _, pattern := range []string{"FC100_*", "CIFAR*", "MNIST_Base/FC100_*"} {
		_, err := ResolveParent(root, pattern)
		var parentErr *ParentError
		require.True(t, errors.As(err, &parentErr), pattern)
	}
}

func TestSplitParent(t *testing.T) {
	feat, err := SplitParent("FC100_Base/FC100_Gen")
	require.NoError(t, err)
	require.Equal(t, "FC100_Base", feat)
	feat, err = SplitParent("FC100_Base")
	require.NoError(t, err)
	require.Equal(t, "FC100_Base", feat)
	for _, bad := range []string{"a/b/c", "../a", ""} {
		_, err := SplitParent(bad)
		require.Error(t, err, bad)
	}
}

func TestCreate(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := Dir("/root", "FC100_Base/"+EvalName("FC100_Eval"))
	require.NoError(t, Create(fs, dir))
	err := Create(fs, dir)
	require.True(t, errors.Cause(err) == ErrExists, "%v", err)

	// A file in the way is not an experiment.
	require.NoError(t, afero.WriteFile(fs, "/root/experiments/taken", nil, 0644))
	err = Create(fs, "/root/experiments/taken")
	require.True(t, errors.Cause(err) == ErrExists, "%v", err)

	root := tempRoot(t)
	osDir := Dir(root, "Base/Gen")
	require.NoError(t, Create(afero.NewOsFs(), osDir))
	err = Create(afero.NewOsFs(), osDir)
	require.True(t, errors.Cause(err) == ErrExists, "%v", err)
	require.Equal(t, "/root/experiments/MNIST_Base/features/MNIST",
		FeatureDir("/root", "MNIST_Base", dataset.MNIST))
}

func TestLinkBestCheckpoints(t *testing.T) {
	root := tempRoot(t, "Base/Gen/"+EvalName("Gen"))
	fs := afero.NewOsFs()
	parent := Dir(root, "Base/Gen")
	_, err := checkpoint.NewStore(fs, parent, nil).Save(&checkpoint.Snapshot{
		Epoch:  5,
		Metric: 0.5,
		Nets: map[string][]byte{
			config.ClassifierRole: []byte("classifier5"),
			config.FeatureRole:    []byte("feat5"),
		},
		Optims: map[string][]byte{config.ClassifierRole: []byte("optim5")},
	})
	require.NoError(t, err)
	// Left behind by an interrupted save.
	stale := checkpoint.NetFile(config.ClassifierRole, 3) + checkpoint.BestSuffix
	require.NoError(t, afero.WriteFile(fs, filepath.Join(parent, stale), nil, 0644))

	runDir := filepath.Join(parent, EvalName("Gen"))
	linked, err := LinkBestCheckpoints(fs, runDir)
	require.NoError(t, err)
	require.Equal(t, []string{
		checkpoint.NetFile(config.ClassifierRole, 5) + checkpoint.BestSuffix,
		checkpoint.OptimFile(config.ClassifierRole, 5) + checkpoint.BestSuffix,
	}, linked)

	name := filepath.Join(runDir, linked[0])
	target, err := os.Readlink(name)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("..", linked[0]), target)
	data, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	require.Equal(t, "classifier5", string(data))

	epoch, err := checkpoint.NewStore(fs, runDir, nil).Resolve(checkpoint.BestFile,
		config.ClassifierRole)
	require.NoError(t, err)
	require.Equal(t, 5, epoch)

	_, err = LinkBestCheckpoints(afero.NewMemMapFs(), "/a/b")
	require.Error(t, err)

	// A parent without a best classifier has nothing to link.
	empty := tempRoot(t, "Base/"+EvalName("Cfg"))
	linked, err = LinkBestCheckpoints(fs, Dir(empty, "Base/"+EvalName("Cfg")))
	require.NoError(t, err)
	require.Empty(t, linked)
}

func TestLinkGroup(t *testing.T) {
	root := tempRoot(t, "Base/"+EvalName("Cfg"))
	fs := afero.NewOsFs()
	runDir := Dir(root, "Base/"+EvalName("Cfg"))
	groupDir := Dir(root, "Base/group")
	require.NoError(t, LinkGroup(fs, groupDir, runDir))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(runDir, "x"), []byte("y"), 0644))

	data, err := afero.ReadFile(fs, filepath.Join(groupDir, EvalName("Cfg"), "x"))
	require.NoError(t, err)
	require.Equal(t, "y", string(data))

	// A second group member with the same name fails.
	require.Error(t, LinkGroup(fs, groupDir, runDir))
}
