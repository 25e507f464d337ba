package registry

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"shardd/internal/common/fsutil"
	"shardd/internal/model"
	"shardd/pkg/types"
)

// LoadDir scans dir for model directories: any directory, at any depth,
// holding a config.json. The ID is the slash-separated path relative to
// dir, which is also the model id a shard descriptor uses.
// Directories whose config.json does not parse are skipped.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	var models []types.Model
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "config.json" {
			return nil
		}
		mdir := filepath.Dir(p)
		if mdir == abs {
			return nil
		}
		cfg, err := model.LoadConfig(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("skipping model directory")
			return nil
		}
		rel, _ := filepath.Rel(abs, mdir)
		models = append(models, types.Model{
			ID:        filepath.ToSlash(rel),
			Path:      mdir,
			ModelType: cfg.ModelType,
			NLayers:   cfg.NumHiddenLayers,
		})
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
