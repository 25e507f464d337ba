// Package download resolves shard descriptors to local model directories.
package download

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"shardd/internal/common/fsutil"
	"shardd/pkg/types"
)

// ConfigFile must exist in every model directory.
const ConfigFile = "config.json"

// Downloader makes the files for a shard available locally and returns the
// model directory. engine names the caller, for downloaders that keep
// per-engine layouts.
type Downloader interface {
	EnsureShard(ctx context.Context, shard types.Shard, engine string) (string, error)
}

// Local serves shards from model directories under Root, named by model id.
// It never fetches.
type Local struct {
	Root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := fsutil.AbsDir(root)
	if err != nil {
		return nil, err
	}
	return &Local{Root: abs}, nil
}

func (l *Local) EnsureShard(ctx context.Context, shard types.Shard, engine string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := shard.Validate(); err != nil {
		return "", err
	}
	dir, err := fsutil.Within(l.Root, filepath.FromSlash(shard.ModelID))
	if err != nil {
		return "", err
	}
	if !fsutil.PathExists(filepath.Join(dir, ConfigFile)) {
		return "", fmt.Errorf("model %q not found under %s", shard.ModelID, l.Root)
	}
	log.Debug().Str("shard", shard.String()).Str("engine", engine).Str("dir", dir).Msg("shard resolved")
	return dir, nil
}
