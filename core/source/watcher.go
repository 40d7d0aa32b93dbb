package source

import (
	"context"
	"fmt"
	"os"

	"soundscape/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch evicts cache entries whose files are removed or replaced behind the
// resolver's back, so the next Resolve fetches them again. It returns once
// the watch is established and stops when ctx is done.
func (r *Resolver) Watch(ctx context.Context) error {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := watcher.Add(r.cacheDir); err != nil {
		watcher.Close()
		return fmt.Errorf("监听缓存目录失败: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					r.Evict(ctx, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("文件监听错误", logger.ErrorField(err))
			}
		}
	}()
	return nil
}
