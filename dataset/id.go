package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// An ID identifies a dataset family.
type ID int

const (
	MiniImageNet ID = iota
	FC100
	CIFARFS
	MNIST
)

var idNames = map[ID]string{
	MiniImageNet: "miniImageNet",
	FC100:        "FC100",
	CIFARFS:      "CIFAR_FS",
	MNIST:        "MNIST",
}

// configPrefixes maps configuration file name prefixes to
// datasets, in matching order.
var configPrefixes = []struct {
	prefix string
	id     ID
}{
	{"miniImageNet_", MiniImageNet},
	{"miniImageNetBase", MiniImageNet},
	{"FC100_", FC100},
	{"FC100Base", FC100},
	{"CIFARFS_", CIFARFS},
	{"CIFARFSBase", CIFARFS},
	{"MNIST_", MNIST},
	{"MNISTBase", MNIST},
}

// String returns the dataset's directory name.
func (i ID) String() string {
	if name, ok := idNames[i]; ok {
		return name
	}
	return "unknown"
}

// ParseID parses a dataset name as returned by String.
// Matching ignores case and accepts "CIFARFS" for CIFAR_FS.
func ParseID(name string) (ID, error) {
	for id, idName := range idNames {
		if strings.EqualFold(name, idName) ||
			strings.EqualFold(name, strings.Replace(idName, "_", "", -1)) {
			return id, nil
		}
	}
	return 0, errors.Errorf("unknown dataset: %q", name)
}

// IDFromConfigName selects a dataset by the prefix of an
// experiment configuration name.
func IDFromConfigName(name string) (ID, error) {
	for _, p := range configPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.id, nil
		}
	}
	return 0, errors.Errorf("no dataset matches config name %q", name)
}

// Resolve picks a dataset from an explicit name, falling
// back to the configuration name.
func Resolve(name, configName string) (ID, error) {
	if name != "" {
		return ParseID(name)
	}
	return IDFromConfigName(configName)
}
