package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	"modelserve/ml"
)

var (
	// ErrUploadNotFound 上传文件不存在
	ErrUploadNotFound = errors.New("upload not found")
	// ErrInvalidFileType 仅允许CSV文件
	ErrInvalidFileType = errors.New("invalid file type")
	// ErrInvalidFilename 文件名清洗后为空
	ErrInvalidFilename = errors.New("invalid filename")
)

// allowedExtensions 允许上传的扩展名
var allowedExtensions = map[string]struct{}{
	".csv": {},
}

// UploadStore 上传文件存储，解析后的表缓存在LRU中
type UploadStore struct {
	dir      string
	encoding Encoding
	cache    *lru.Cache[string, *ml.Table]
}

// NewUploadStore 创建上传存储
func NewUploadStore(dir string, cacheSize int, enc Encoding) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	cache, err := lru.New[string, *ml.Table](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create upload cache failed: %w", err)
	}
	return &UploadStore{
		dir:      dir,
		encoding: enc,
		cache:    cache,
	}, nil
}

// Dir 返回上传目录
func (s *UploadStore) Dir() string {
	return s.dir
}

// Save 保存上传文件并解析，返回清洗后的文件名
//
// 解析失败时文件会被删除。
func (s *UploadStore) Save(name string, r io.Reader) (string, *ml.Table, error) {
	if !AllowedFile(name) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidFileType, name)
	}
	filename := SecureFilename(name)
	if filename == "" || !AllowedFile(filename) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	path := filepath.Join(s.dir, filename)

	tmp, err := os.CreateTemp(s.dir, "."+filename+".*")
	if err != nil {
		return "", nil, fmt.Errorf("create upload failed: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", nil, fmt.Errorf("write upload failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", nil, fmt.Errorf("write upload failed: %w", err)
	}

	table, err := s.parse(tmp.Name())
	if err != nil {
		return "", nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", nil, fmt.Errorf("store upload failed: %w", err)
	}
	s.cache.Add(filename, table)
	return filename, table, nil
}

// Load 读取已上传的数据集，优先使用缓存
func (s *UploadStore) Load(name string) (*ml.Table, error) {
	filename := SecureFilename(name)
	if filename == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if table, ok := s.cache.Get(filename); ok {
		return table, nil
	}
	table, err := s.parse(filepath.Join(s.dir, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, filename)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Add(filename, table)
	return table, nil
}

func (s *UploadStore) parse(path string) (*ml.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file, s.encoding)
}

// AllowedFile 检查扩展名
func AllowedFile(name string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SecureFilename 生成可安全落盘的文件名
//
// 先做NFKD分解并丢弃非ASCII字符，路径分隔符视为空白，空白折叠为下划线，
// 只保留字母、数字、下划线、点和连字符，并去掉首尾的点和下划线。
func SecureFilename(name string) string {
	decomposed := norm.NFKD.String(name)
	decomposed = strings.NewReplacer("/", " ", "\\", " ").Replace(decomposed)

	var ascii strings.Builder
	for _, r := range decomposed {
		if r < 0x80 {
			ascii.WriteRune(r)
		}
	}
	joined := strings.Join(strings.Fields(ascii.String()), "_")

	var out strings.Builder
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			out.WriteRune(r)
		}
	}
	return strings.Trim(out.String(), "._")
}
