package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"soundscape/config"
	"soundscape/core/source"
	"soundscape/model"
)

// trackFile is the JSON shape accepted by render and play: either a bare
// track list or an object with a name.
type trackFile struct {
	Name   string             `json:"name"`
	Tracks []model.TrackState `json:"tracks"`
}

// loadTrackFile reads a track list from path. Relative local sources are
// resolved against the file's own directory.
func loadTrackFile(path string) (*trackFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取音轨文件失败: %w", err)
	}

	var tf trackFile
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &tf.Tracks)
	} else {
		err = json.Unmarshal(data, &tf)
	}
	if err != nil {
		return nil, fmt.Errorf("解析音轨文件失败: %w", err)
	}
	if len(tf.Tracks) == 0 {
		return nil, fmt.Errorf("音轨文件 %s 没有音轨", path)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	for i, t := range tf.Tracks {
		if source.KindOf(t.SourceRef) == source.KindLocal && !filepath.IsAbs(t.SourceRef) {
			tf.Tracks[i].SourceRef = filepath.Join(base, t.SourceRef)
		}
	}
	if tf.Name == "" {
		tf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &tf, nil
}

// localResolver resolves sources for the CLI: local files and HTTP URLs,
// without Redis or MinIO.
func localResolver(cfg *config.Config) *source.Resolver {
	return source.NewResolver(source.Options{CacheDir: cfg.SourceCacheDir, AllowAbsolute: true})
}

// safeOutputName keeps a soundscape name usable as a file name.
func safeOutputName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		case ' ', '\t':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "soundscape"
	}
	return name
}
