package storage

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByKind       map[string]int64 // bytes per content kind
}

// Summarize 统计对象列表
func Summarize(objects []ObjectInfo) BucketStats {
	stats := BucketStats{ByKind: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		stats.ByKind[inferContentType(obj.Key, obj.ContentType)] += obj.Size
	}
	return stats
}

// PrintBucketStatus 打印存储桶状态
func PrintBucketStatus(w io.Writer, bucket, prefix string, objects []ObjectInfo, listFiles bool) {
	stats := Summarize(objects)
	fmt.Fprintf(w, "存储桶状态报告: %s\n", bucket)
	fmt.Fprintf(w, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(w, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "总存储大小: %s\n", formatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	kinds := make([]string, 0, len(stats.ByKind))
	for k := range stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-8s %s\n", k, formatSize(stats.ByKind[k]))
	}

	if !listFiles {
		return
	}
	fmt.Fprintln(w, "文件列表:")
	for _, obj := range objects {
		fmt.Fprintf(w, "  %s  %s  %s\n", obj.Key, formatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
	}
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// inferContentType 从内容类型或文件名推断类别
func inferContentType(key, contentType string) string {
	if i := strings.IndexByte(contentType, '/'); i > 0 {
		return contentType[:i]
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3", ".wav", ".flac", ".m4a", ".ogg":
		return "audio"
	case ".json":
		return "data"
	default:
		return "other"
	}
}
