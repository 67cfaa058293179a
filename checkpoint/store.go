package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// BestSuffix marks the copies of the best epoch.
const BestSuffix = ".best"

// A Snapshot is the saved state of all networks at the
// end of an epoch.
type Snapshot struct {
	Epoch  int
	Metric float64

	// Nets maps network roles to serialized networks.
	Nets map[string][]byte

	// Optims maps network roles to optimizer states.
	// Roles without an optimizer may be absent.
	Optims map[string][]byte
}

// A Store manages the checkpoints in one experiment
// directory.
//
// A Store is not safe for concurrent use.
type Store struct {
	Fs     afero.Fs
	Dir    string
	Logger *zap.Logger
}

// NewStore creates a Store.
// A nil logger disables logging.
func NewStore(fs afero.Fs, dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Fs: fs, Dir: dir, Logger: logger}
}

// NetFile returns the network file name of a role at an
// epoch.
func NetFile(role string, epoch int) string {
	return fmt.Sprintf("%s_net_epoch%d", role, epoch)
}

// OptimFile returns the optimizer file name of a role at
// an epoch.
func OptimFile(role string, epoch int) string {
	return fmt.Sprintf("%s_optim_epoch%d", role, epoch)
}

// Index reads the store's index.
// A store without an index has no records.
func (s *Store) Index() (*Index, error) {
	return readIndex(s.Fs, s.Dir)
}

// Save writes a snapshot and records it in the index.
//
// If the snapshot's metric strictly exceeds every earlier
// metric, best copies of its files replace the previous
// best copies.
// The index is updated last, so an interrupted Save
// leaves the previous checkpoint selectable.
func (s *Store) Save(snap *Snapshot) (best bool, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "save checkpoint for epoch %d", snap.Epoch)
		}
	}()
	if snap.Epoch <= 0 {
		return false, errors.Errorf("invalid epoch %d", snap.Epoch)
	}
	idx, err := s.Index()
	if err != nil {
		return false, err
	}
	idx.truncate(snap.Epoch)
	best = idx.IsBetter(snap.Metric)

	roles := snapshotRoles(snap)
	var total int
	for _, role := range roles {
		files := map[string][]byte{NetFile(role, snap.Epoch): snap.Nets[role]}
		if optim, ok := snap.Optims[role]; ok {
			files[OptimFile(role, snap.Epoch)] = optim
		}
		for name, data := range files {
			if err := writeAtomic(s.Fs, filepath.Join(s.Dir, name), data); err != nil {
				return false, err
			}
			if best {
				if err := writeAtomic(s.Fs, filepath.Join(s.Dir, name+BestSuffix), data); err != nil {
					return false, err
				}
			}
			total += len(data)
		}
	}

	idx.add(Record{Epoch: snap.Epoch, Metric: snap.Metric, Best: best, Roles: roles})
	if err := writeIndex(s.Fs, s.Dir, idx); err != nil {
		return false, err
	}

	if err := s.removeStaleBest(roles, idx.BestEpoch); err != nil {
		return best, err
	}
	s.Logger.Info("saved checkpoint",
		zap.Int("epoch", snap.Epoch),
		zap.Float64("metric", snap.Metric),
		zap.Bool("best", best),
		zap.String("size", humanize.Bytes(uint64(total))))
	return best, nil
}

// removeStaleBest deletes the best copies of every epoch
// except bestEpoch.
func (s *Store) removeStaleBest(roles []string, bestEpoch int) error {
	for _, role := range roles {
		matches, err := s.bestFiles(role, "net")
		if err != nil {
			return err
		}
		optims, err := s.bestFiles(role, "optim")
		if err != nil {
			return err
		}
		for _, m := range append(matches, optims...) {
			if m.epoch != bestEpoch {
				if err := s.Fs.Remove(m.path); err != nil && !os.IsNotExist(err) {
					return errors.Wrap(err, "remove stale best checkpoint")
				}
			}
		}
	}
	return nil
}

type bestMatch struct {
	path  string
	epoch int
}

// bestFiles lists the best copies of a role's files of a
// given kind ("net" or "optim").
func (s *Store) bestFiles(role, kind string) ([]bestMatch, error) {
	pattern := filepath.Join(s.Dir, fmt.Sprintf("%s_%s_epoch*%s", role, kind, BestSuffix))
	paths, err := afero.Glob(s.Fs, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "list best checkpoints")
	}
	expr := regexp.MustCompile("_epoch([0-9]+)" + regexp.QuoteMeta(BestSuffix) + "$")
	var res []bestMatch
	for _, p := range paths {
		m := expr.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		epoch, _ := strconv.Atoi(m[1])
		res = append(res, bestMatch{path: p, epoch: epoch})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].epoch < res[j].epoch
	})
	return res, nil
}

// A Loaded checkpoint holds one role's saved state.
type Loaded struct {
	Epoch int
	Net   []byte

	// Optim is nil unless it was requested.
	Optim []byte
}

// Resolve finds the epoch a selector refers to for a
// role.
//
// BestFile needs exactly one best copy of the role's
// network, unless the index picks one of several.
// Failures are *ResolutionError values.
func (s *Store) Resolve(sel Selector, role string) (epoch int, err error) {
	resErr := func(reason string, matches []string) error {
		return errors.WithStack(&ResolutionError{
			Dir:      s.Dir,
			Role:     role,
			Selector: sel,
			Matches:  matches,
			Reason:   reason,
		})
	}

	if sel.kind == bestFileKind {
		matches, err := s.bestFiles(role, "net")
		if err != nil {
			return 0, err
		}
		if len(matches) > 1 {
			// A Save interrupted before its stale copies were
			// removed leaves several; the index names the one
			// it committed.
			if idx, err := s.Index(); err == nil && idx.BestEpoch != 0 {
				for _, m := range matches {
					if m.epoch == idx.BestEpoch {
						return m.epoch, nil
					}
				}
			}
		}
		if len(matches) != 1 {
			var paths []string
			for _, m := range matches {
				paths = append(paths, m.path)
			}
			return 0, resErr(fmt.Sprintf("%d best files found", len(matches)), paths)
		}
		return matches[0].epoch, nil
	}

	idx, err := s.Index()
	if err != nil {
		return 0, err
	}
	var rec *Record
	switch sel.kind {
	case latestKind:
		rec = idx.Latest()
	case bestKind:
		if idx.BestEpoch != 0 {
			rec = idx.Find(idx.BestEpoch)
		}
	case epochKind:
		rec = idx.Find(sel.epoch)
	}
	if rec == nil {
		return 0, resErr("no such checkpoint in index", nil)
	}
	for _, r := range rec.Roles {
		if r == role {
			return rec.Epoch, nil
		}
	}
	return 0, resErr(fmt.Sprintf("epoch %d has no %s network", rec.Epoch, role), nil)
}

// Load resolves a selector and reads a role's network,
// plus its optimizer state if withOptim is set.
func (s *Store) Load(sel Selector, role string, withOptim bool) (*Loaded, error) {
	epoch, err := s.Resolve(sel, role)
	if err != nil {
		return nil, err
	}
	res := &Loaded{Epoch: epoch}
	res.Net, err = s.readEither(NetFile(role, epoch), sel == BestFile)
	if err != nil {
		return nil, err
	}
	if withOptim {
		res.Optim, err = s.readEither(OptimFile(role, epoch), sel == BestFile)
		if err != nil {
			return nil, err
		}
	}
	s.Logger.Info("loaded checkpoint",
		zap.String("dir", s.Dir),
		zap.String("role", role),
		zap.Int("epoch", epoch),
		zap.String("size", humanize.Bytes(uint64(len(res.Net)+len(res.Optim)))))
	return res, nil
}

// readEither reads a checkpoint file, trying the best copy
// first or second.
func (s *Store) readEither(name string, bestFirst bool) ([]byte, error) {
	names := []string{name, name + BestSuffix}
	if bestFirst {
		names[0], names[1] = names[1], names[0]
	}
	var firstErr error
	for _, n := range names {
		data, err := afero.ReadFile(s.Fs, filepath.Join(s.Dir, n))
		if err == nil {
			return data, nil
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read checkpoint")
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return nil, errors.Wrap(firstErr, "read checkpoint")
}

func snapshotRoles(snap *Snapshot) []string {
	var roles []string
	for role := range snap.Nets {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
