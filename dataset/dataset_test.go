package dataset

import (
	"testing"

	"github.com/qinzhengmei/MABAS/episode"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/mnist"
)

func TestParseID(t *testing.T) {
	for name, expected := range map[string]ID{
		"miniImageNet": MiniImageNet,
		"fc100":        FC100,
		"CIFAR_FS":     CIFARFS,
		"CIFARFS":      CIFARFS,
		"MNIST":        MNIST,
	} {
		id, err := ParseID(name)
		require.NoError(t, err)
		require.Equal(t, expected, id)
	}
	_, err := ParseID("imagenet")
	require.Error(t, err)
}

func TestParsePhase(t *testing.T) {
	for name, subsets := range map[string][]string{
		"train": {TrainPhaseTrain},
		"val":   {TrainPhaseVal, CategorySplitVal},
		"test":  {TrainPhaseTest, CategorySplitTest},
	} {
		phase, err := ParsePhase(name)
		require.NoError(t, err)
		require.Equal(t, subsets, phase.Subsets())
	}
	_, err := ParsePhase("Test")
	require.Error(t, err)
}

func TestIDFromConfigName(t *testing.T) {
	for name, expected := range map[string]ID{
		"miniImageNet_Conv128CosineClassifier": MiniImageNet,
		"miniImageNetBase64":                   MiniImageNet,
		"FC100_ResNetLikeCosineClassifier":     FC100,
		"CIFARFSBase":                          CIFARFS,
		"MNIST_CosineClassifier":               MNIST,
	} {
		id, err := IDFromConfigName(name)
		require.NoError(t, err)
		require.Equal(t, expected, id)
	}
	for _, name := range []string{"miniImageNet", "FC100", "Omniglot_Conv"} {
		_, err := IDFromConfigName(name)
		require.Error(t, err, name)
	}

	id, err := Resolve("MNIST", "FC100_Foo")
	require.NoError(t, err)
	require.Equal(t, MNIST, id)
}

func testSubset(name string, labels ...int) *Subset {
	res := &Subset{Name: name, Dim: 2, Labels: labels}
	for i := range labels {
		res.Data = append(res.Data, float32(i), float32(-i))
	}
	return res
}

func TestSubsetFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := testSubset("val", 3, 3, 7)
	require.NoError(t, WriteSubset(fs, "/f/val.features", s))
	decoded, err := ReadSubset(fs, "/f/val.features")
	require.NoError(t, err)
	require.Equal(t, s, decoded)
	require.Equal(t, []int{3, 7}, decoded.Categories())

	bad := testSubset("bad", 1)
	bad.Data = bad.Data[:1]
	require.Error(t, WriteSubset(fs, "/f/bad.features", bad))

	require.NoError(t, afero.WriteFile(fs, "/f/junk.features", []byte("junk"), 0644))
	_, err = ReadSubset(fs, "/f/junk.features")
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteSubset(fs, "/a.features", testSubset("a", 1)))
	cache, err := NewCache(fs, 2)
	require.NoError(t, err)
	s1, err := cache.Load("/a.features")
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/a.features"))
	s2, err := cache.Load("/a.features")
	require.NoError(t, err)
	require.True(t, s1 == s2)
}

func writeAllSubsets(t *testing.T, fs afero.Fs, dir string) {
	subsets := map[string]*Subset{
		TrainPhaseTrain:   testSubset(TrainPhaseTrain, 0, 0, 1, 1, 2, 2),
		TrainPhaseVal:     testSubset(TrainPhaseVal, 0, 1, 2),
		TrainPhaseTest:    testSubset(TrainPhaseTest, 0, 1, 2, 2),
		CategorySplitVal:  testSubset(CategorySplitVal, 5, 5, 6, 6),
		CategorySplitTest: testSubset(CategorySplitTest, 8, 8, 9, 9, 9),
	}
	for name, s := range subsets {
		require.NoError(t, WriteSubset(fs, FeaturePath(dir, name), s))
	}
}

func TestOpenPrecomputed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAllSubsets(t, fs, "/exp/features/FC100")
	cache, err := NewCache(fs, 8)
	require.NoError(t, err)
	opts := &Options{Fs: fs, FeatureDir: "/exp/features/FC100", Cache: cache}

	train, err := DefaultRegistry().Open(FC100, Train, opts)
	require.NoError(t, err)
	require.Equal(t, 6, train.Len())
	require.Equal(t, []int{0, 1, 2}, train.Split.Base)
	require.False(t, train.Split.IsEvalMode())

	test, err := DefaultRegistry().Open(FC100, Test, opts)
	require.NoError(t, err)
	require.Equal(t, 9, test.Len())
	require.Equal(t, []int{8, 9}, test.Split.Novel)
	require.Equal(t, 8, test.Label(4))
	require.Equal(t, []float32{4, -4}, test.Vector(8))

	sampler, err := test.Sampler()
	require.NoError(t, err)
	require.NotNil(t, sampler)

	packed := test.Pack(anyvec64.DefaultCreator{}, []episode.Example{{Index: 1}, {Index: 5}})
	require.Equal(t, []float64{1, -1, 1, -1}, packed.Data())

	require.NoError(t, fs.Remove(FeaturePath("/exp/features/FC100", CategorySplitVal)))
	_, err = PrecomputedPaths(fs, "/exp/features/FC100")
	require.Error(t, err)
	_, err = DefaultRegistry().Open(FC100, Val, opts)
	require.Error(t, err)
}

func TestOpenRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAllSubsets(t, fs, "/data/miniImageNet")
	val, err := DefaultRegistry().Open(MiniImageNet, Val, &Options{Fs: fs, DataRoot: "/data"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, val.Split.Base)
	require.Equal(t, []int{5, 6}, val.Split.Novel)
}

func TestHashSplit(t *testing.T) {
	hash := func(i int) []byte {
		return hashFloats([]float64{float64(i)})
	}
	left, right := HashSplit(1000, hash, 0.2)
	require.Len(t, append(left, right...), 1000)
	require.InDelta(t, 200, len(left), 60)

	left2, right2 := HashSplit(1000, hash, 0.2)
	require.Equal(t, left, left2)
	require.Equal(t, right, right2)

	left, right = HashSplit(10, hash, 0)
	require.Empty(t, left)
	require.Len(t, right, 10)
}

func TestBuildMNISTSubsets(t *testing.T) {
	makeSet := func(n int) mnist.DataSet {
		res := mnist.DataSet{Width: 2, Height: 2}
		for i := 0; i < n; i++ {
			res.Samples = append(res.Samples, mnist.Sample{
				Intensities: []float64{float64(i), 0, 1, 0},
				Label:       i % 10,
			})
		}
		return res
	}
	subsets := buildMNISTSubsets(makeSet(200), makeSet(50))
	require.Equal(t, []int{0, 1, 2, 3, 4}, subsets[TrainPhaseTrain].Categories())
	require.Equal(t, []int{5, 6, 7, 8, 9}, subsets[CategorySplitVal].Categories())
	require.Equal(t, []int{5, 6, 7, 8, 9}, subsets[CategorySplitTest].Categories())
	require.Equal(t, 100, subsets[TrainPhaseTrain].Len()+subsets[TrainPhaseVal].Len())
	require.Equal(t, 25, subsets[TrainPhaseTest].Len())
	for _, s := range subsets {
		require.NoError(t, s.validate())
		require.Equal(t, 4, s.Dim)
	}
}
