package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
)

const (
	// refDBDirName 参考数据库在缓存根目录下的子目录名
	refDBDirName = "_refdb"

	// tmpSuffix 临时文件后缀，写入完成并校验通过前内容不会出现在最终路径
	tmpSuffix = ".tmp"
)

// Store 管理本地缓存目录的磁盘布局。
//
// 目录结构:
//
//	<root>/<assetID>/<filename>         资产内容
//	<root>/_refdb/<name>/<filename>     参考数据库文件
//
// 写入流程分为两步: WriteTemp 将字节流写入目标路径旁的临时文件并计算哈希,
// 调用方校验哈希后通过 Promote 原子地重命名到最终路径。
// 校验失败或写入中断时临时文件被删除，最终路径永远不会出现损坏内容。
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore 创建缓存存储并确保根目录存在
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache: root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Root 返回缓存根目录
func (s *Store) Root() string {
	return s.root
}

// AssetPath 返回资产内容的缓存路径
func (s *Store) AssetPath(assetID, filename string) string {
	return filepath.Join(s.root, sanitize(assetID), sanitize(filename))
}

// RefDBPath 返回参考数据库文件的缓存路径
func (s *Store) RefDBPath(name, filename string) string {
	return filepath.Join(s.root, refDBDirName, sanitize(name), sanitize(filename))
}

// WriteTemp 将 r 的内容写入 target 旁的临时文件。
// 返回临时文件路径、内容的 SHA-256 哈希和字节数。
// 写入失败时临时文件已被删除。
func (s *Store) WriteTemp(target string, r io.Reader) (string, string, int64, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}

	tmp := target + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", "", 0, fmt.Errorf("cache: create temp %s: %w", tmp, err)
	}

	// 边写边哈希，避免落盘后再读一遍
	hash, err := checksum.SumReader(io.TeeReader(r, f))
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", 0, fmt.Errorf("cache: write %s: %w", tmp, err)
	}

	// 重命名前刷盘，确保崩溃后最终路径不会指向不完整的数据
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", 0, fmt.Errorf("cache: sync %s: %w", tmp, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", 0, fmt.Errorf("cache: stat %s: %w", tmp, err)
	}
	size := fi.Size()

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", "", 0, fmt.Errorf("cache: close %s: %w", tmp, err)
	}

	return tmp, hash, size, nil
}

// Promote 将临时文件原子地重命名为最终路径
func (s *Store) Promote(tmp, target string) error {
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("cache: promote %s: %w", target, err)
	}
	s.logger.Debug("缓存条目已提交", zap.String("path", target))
	return nil
}

// Discard 删除临时文件
func (s *Store) Discard(tmp string) error {
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: discard %s: %w", tmp, err)
	}
	return nil
}

// Remove 删除缓存文件及可能残留的临时文件。
// 文件不存在视为成功。父目录变空时一并删除。
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove %s: %w", path, err)
	}
	os.Remove(path + tmpSuffix)

	// 目录非空时删除会失败，忽略即可
	if dir := filepath.Dir(path); dir != s.root {
		_ = os.Remove(dir)
	}

	s.logger.Debug("缓存条目已删除", zap.String("path", path))
	return nil
}

// sanitize 过滤路径分隔符和目录穿越，单个 ID 或文件名只能落在一层目录内
func sanitize(name string) string {
	name = filepath.Base(name)
	if name == "." || name == ".." || name == "" {
		return "_"
	}
	return name
}
