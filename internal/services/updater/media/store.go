package media

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"

	"github.com/spf13/afero"
)

// FsStore keeps assets under root in sharded ab/cd/<hash>.<ext> paths
type FsStore struct {
	fs         afero.Afero
	root       string
	publicBase string
}

var _ domain.MediaStore = (*FsStore)(nil)

// NewFsStore stores under root on fs; publicBase prefixes public urls
func NewFsStore(fs afero.Fs, root, publicBase string) *FsStore {
	return &FsStore{
		fs:         afero.Afero{Fs: fs},
		root:       filepath.Clean(root),
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// NewOsStore is NewFsStore over the real filesystem
func NewOsStore(root, publicBase string) *FsStore {
	return NewFsStore(afero.NewOsFs(), root, publicBase)
}

// relPath returns the sharded relative path with forward slashes
func relPath(hash, ext string) string {
	name := hash
	if ext != "" {
		name += "." + ext
	}
	if len(hash) < 4 {
		return name
	}
	return path.Join(hash[:2], hash[2:4], name)
}

// StoreAsset writes data once; an existing file for the same hash is kept
func (s *FsStore) StoreAsset(_ context.Context, hash, ext string, data []byte) (string, error) {
	if hash == "" {
		return "", perr.Mediaf("store asset: empty hash")
	}
	rel := relPath(hash, ext)
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	if ok, err := s.fs.Exists(full); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeMedia, "stat %s", rel)
	} else if ok {
		return rel, nil
	}
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeMedia, "mkdir for %s", rel)
	}

	// write then rename so readers never see a partial file
	tmp := full + ".part"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeMedia, "write %s", rel)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		_ = s.fs.Remove(tmp)
		return "", perr.Wrapf(err, perr.ErrorCodeMedia, "rename %s", rel)
	}
	return rel, nil
}

// Exists finds a stored asset by hash whatever its extension
func (s *FsStore) Exists(_ context.Context, hash string) (domain.MediaAsset, bool, error) {
	if hash == "" {
		return domain.MediaAsset{}, false, nil
	}
	dir := filepath.Dir(filepath.Join(s.root, filepath.FromSlash(relPath(hash, ""))))
	matches, err := afero.Glob(s.fs, filepath.Join(dir, hash+".*"))
	if err != nil {
		return domain.MediaAsset{}, false, perr.Wrapf(err, perr.ErrorCodeMedia, "glob %s", hash)
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") {
			continue
		}
		fi, err := s.fs.Stat(m)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return domain.MediaAsset{}, false, perr.Wrapf(err, perr.ErrorCodeMedia, "stat %s", m)
		}
		ext := strings.TrimPrefix(filepath.Ext(m), ".")
		rel := relPath(hash, ext)
		return domain.MediaAsset{
			Hash:        hash,
			Path:        rel,
			PublicURL:   s.PublicURL(rel),
			ContentType: typeForExt(ext),
			Size:        fi.Size(),
		}, true, nil
	}
	return domain.MediaAsset{}, false, nil
}

// PublicURL joins the public base and a relative asset path
func (s *FsStore) PublicURL(rel string) string {
	if s.publicBase == "" {
		return "/" + rel
	}
	return s.publicBase + "/" + rel
}
