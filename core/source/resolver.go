// Package source turns a track's source reference into a readable local file.
// A reference is a path under the source directory, an http(s) URL, or a
// minio://<key> object in the sounds bucket. Remote sources are fetched once
// into the cache directory.
package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"soundscape/cache"
	"soundscape/logger"
)

// ObjectScheme prefixes references to objects in the sounds bucket.
const ObjectScheme = "minio://"

var (
	ErrOutsideSourceDir = errors.New("source: path escapes the source directory")
	ErrNotRegularFile   = errors.New("source: not a regular file")
	ErrNoObjectStore    = errors.New("source: object storage not configured")
)

// Kind classifies a reference.
type Kind int

const (
	KindLocal Kind = iota
	KindHTTP
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindObject:
		return "object"
	default:
		return "local"
	}
}

// KindOf returns the kind of ref.
func KindOf(ref string) Kind {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return KindHTTP
	case strings.HasPrefix(ref, ObjectScheme):
		return KindObject
	default:
		return KindLocal
	}
}

// MetaCache remembers where remote references were stored. cache.SourceCache
// implements it.
type MetaCache interface {
	Get(ctx context.Context, ref string) (*cache.SourceMeta, error)
	Set(ctx context.Context, meta *cache.SourceMeta) error
	Delete(ctx context.Context, ref string) error
}

// ObjectFetcher downloads a bucket object to a local file. storage.Store
// implements it.
type ObjectFetcher interface {
	FGetObject(ctx context.Context, key, path string) error
}

// Options configures a Resolver.
type Options struct {
	SourceDir string
	CacheDir  string
	// AllowAbsolute accepts absolute local paths outside SourceDir.
	AllowAbsolute bool
	Meta          MetaCache     // optional
	Objects       ObjectFetcher // optional; minio:// refs fail without it
	HTTPClient    *http.Client
}

type fetchCall struct {
	done chan struct{}
	path string
	err  error
}

// Resolver resolves references. It is safe for concurrent use; concurrent
// resolutions of the same remote reference share one download.
type Resolver struct {
	sourceDir     string
	cacheDir      string
	allowAbsolute bool
	meta          MetaCache
	objects   ObjectFetcher
	client    *http.Client

	mu       sync.Mutex
	inflight map[string]*fetchCall
	byPath   map[string]string // cached file -> ref
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	sourceDir, _ := filepath.Abs(opts.SourceDir)
	cacheDir, _ := filepath.Abs(opts.CacheDir)
	return &Resolver{
		sourceDir:     sourceDir,
		cacheDir:      cacheDir,
		allowAbsolute: opts.AllowAbsolute,
		meta:          opts.Meta,
		objects:       opts.Objects,
		client:        client,
		inflight:      make(map[string]*fetchCall),
		byPath:        make(map[string]string),
	}
}

// CacheDir returns the directory remote sources are stored in.
func (r *Resolver) CacheDir() string {
	return r.cacheDir
}

// Resolve returns a local path for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("source: empty reference")
	}
	if KindOf(ref) == KindLocal {
		return r.resolveLocal(ref)
	}
	return r.resolveRemote(ctx, ref)
}

// Locate implements render.Locator.
func (r *Resolver) Locate(ctx context.Context, ref string) (string, error) {
	return r.Resolve(ctx, ref)
}

func (r *Resolver) resolveLocal(ref string) (string, error) {
	p := filepath.Clean(ref)
	abs := filepath.IsAbs(p)
	if !abs {
		p = filepath.Join(r.sourceDir, p)
	}
	if !abs || !r.allowAbsolute {
		rel, err := filepath.Rel(r.sourceDir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideSourceDir, ref)
		}
	}
	if err := checkRegular(p); err != nil {
		return "", err
	}
	return p, nil
}

func checkRegular(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, p)
	}
	return nil
}

// cachePath is where a remote ref is stored. The extension is kept so the
// decoder can pick a format.
func (r *Resolver) cachePath(ref string) string {
	sum := sha1.Sum([]byte(ref))
	name := strings.TrimPrefix(ref, ObjectScheme)
	if u, err := url.Parse(ref); err == nil && KindOf(ref) == KindHTTP {
		name = u.Path
	}
	return filepath.Join(r.cacheDir, hex.EncodeToString(sum[:])+strings.ToLower(path.Ext(name)))
}

func (r *Resolver) resolveRemote(ctx context.Context, ref string) (string, error) {
	dest := r.cachePath(ref)

	if r.meta != nil {
		meta, err := r.meta.Get(ctx, ref)
		if err != nil {
			logger.Warn("读取音源缓存失败", logger.String("ref", ref), logger.ErrorField(err))
		} else if meta != nil {
			if info, err := os.Stat(meta.LocalPath); err == nil && info.Size() == meta.Size {
				r.remember(meta.LocalPath, ref)
				return meta.LocalPath, nil
			}
			_ = r.meta.Delete(ctx, ref)
		}
	}
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		r.remember(dest, ref)
		r.storeMeta(ctx, ref, dest, info.Size())
		return dest, nil
	}

	r.mu.Lock()
	if call, ok := r.inflight[ref]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.path, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		// finished by another caller since the first check
		r.mu.Unlock()
		return dest, nil
	}
	call := &fetchCall{done: make(chan struct{})}
	r.inflight[ref] = call
	r.mu.Unlock()

	// shared by every waiter; outlives the caller that started it
	go func() {
		call.path, call.err = r.fetch(context.WithoutCancel(ctx), ref, dest)

		r.mu.Lock()
		delete(r.inflight, ref)
		r.mu.Unlock()
		close(call.done)
	}()

	select {
	case <-call.done:
		return call.path, call.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, ref, dest string) (string, error) {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := dest + ".part"
	defer os.Remove(tmp)

	start := time.Now()
	var err error
	switch KindOf(ref) {
	case KindHTTP:
		err = r.download(ctx, ref, tmp)
	case KindObject:
		if r.objects == nil {
			return "", fmt.Errorf("%w: %s", ErrNoObjectStore, ref)
		}
		err = r.objects.FGetObject(ctx, strings.TrimPrefix(ref, ObjectScheme), tmp)
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("fetch %s: empty response", ref)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("failed to move %s into cache: %w", ref, err)
	}

	logger.Info("音源已缓存",
		logger.String("ref", ref),
		logger.String("path", dest),
		logger.Int64("size", info.Size()),
		logger.Duration("elapsed", time.Since(start)))
	r.remember(dest, ref)
	r.storeMeta(ctx, ref, dest, info.Size())
	return dest, nil
}

// download 下载文件
func (r *Resolver) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载请求失败，状态码: %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (r *Resolver) storeMeta(ctx context.Context, ref, localPath string, size int64) {
	if r.meta == nil {
		return
	}
	meta := &cache.SourceMeta{Ref: ref, LocalPath: localPath, Size: size, FetchedAt: time.Now()}
	if err := r.meta.Set(ctx, meta); err != nil {
		logger.Warn("写入音源缓存失败", logger.String("ref", ref), logger.ErrorField(err))
	}
}

func (r *Resolver) remember(localPath, ref string) {
	r.mu.Lock()
	r.byPath[localPath] = ref
	r.mu.Unlock()
}

// Evict forgets the cached file at localPath. It reports whether the file
// backed a known reference.
func (r *Resolver) Evict(ctx context.Context, localPath string) bool {
	r.mu.Lock()
	ref, ok := r.byPath[localPath]
	delete(r.byPath, localPath)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if r.meta != nil {
		if err := r.meta.Delete(ctx, ref); err != nil {
			logger.Warn("删除音源缓存失败", logger.String("ref", ref), logger.ErrorField(err))
		}
	}
	logger.Debug("音源缓存已失效", logger.String("ref", ref), logger.String("path", localPath))
	return true
}
