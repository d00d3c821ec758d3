package fuse

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sharefs/sharefs/internal/filesystem"
	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// Opener opens and stats remote files. It is satisfied by *adapter.Adapter.
type Opener interface {
	Open(ctx context.Context, profile *types.Profile, path string, mode types.AccessMode) (*filesystem.ProxyFile, error)
	Stat(ctx context.Context, profile *types.Profile, path string) (types.FileInfo, error)
}

// Config represents FUSE filesystem configuration
type Config struct {
	ReadOnly bool   `yaml:"read_only"`
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	FileMode uint32 `yaml:"file_mode"`
	DirMode  uint32 `yaml:"dir_mode"`
}

// Stats tracks filesystem operation counts.
type Stats struct {
	Lookups      int64 `json:"lookups"`
	Opens        int64 `json:"opens"`
	Creates      int64 `json:"creates"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
}

// FileSystem exposes every connection profile as a top-level directory whose
// files are served by ProxyFiles.
type FileSystem struct {
	opener   Opener
	profiles []*types.Profile
	config   *Config
	logger   *slog.Logger

	lookups      atomic.Int64
	opens        atomic.Int64
	creates      atomic.Int64
	reads        atomic.Int64
	writes       atomic.Int64
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	failures     atomic.Int64
}

// NewFileSystem creates a filesystem over the given profiles.
func NewFileSystem(opener Opener, profiles []types.Profile, config *Config, logger *slog.Logger) *FileSystem {
	if config == nil {
		config = &Config{FileMode: 0644, DirMode: 0755}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ptrs := make([]*types.Profile, len(profiles))
	for i := range profiles {
		ptrs[i] = &profiles[i]
	}

	return &FileSystem{
		opener:   opener,
		profiles: ptrs,
		config:   config,
		logger:   logger.With("component", "fuse"),
	}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &rootNode{fsys: fsys}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() *Stats {
	return &Stats{
		Lookups:      fsys.lookups.Load(),
		Opens:        fsys.opens.Load(),
		Creates:      fsys.creates.Load(),
		Reads:        fsys.reads.Load(),
		Writes:       fsys.writes.Load(),
		BytesRead:    fsys.bytesRead.Load(),
		BytesWritten: fsys.bytesWritten.Load(),
		Errors:       fsys.failures.Load(),
	}
}

// errno maps err onto the host errno and logs it. Cancellations are not
// counted as failures.
func (fsys *FileSystem) errno(op, p string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	code := errors.CodeOf(err)
	if code == errors.ErrCodeCancelled {
		return syscall.EINTR
	}
	if code != errors.ErrCodeNotFound {
		fsys.failures.Add(1)
		fsys.logger.Warn(op+" failed", "path", p, "code", string(code), "error", err)
	}
	return errors.ToErrno(err)
}

func (fsys *FileSystem) dirAttr(attr *fuse.Attr) {
	attr.Mode = fuse.S_IFDIR | fsys.config.DirMode
	attr.Nlink = 2
	attr.Uid = fsys.config.UID
	attr.Gid = fsys.config.GID
}

func (fsys *FileSystem) fileAttr(attr *fuse.Attr, size int64, mtime time.Time) {
	mode := fsys.config.FileMode
	if fsys.config.ReadOnly {
		mode &^= 0222
	}
	attr.Mode = fuse.S_IFREG | mode
	attr.Nlink = 1
	attr.Size = safeInt64ToUint64(size)
	attr.Blocks = (attr.Size + 511) / 512
	attr.Uid = fsys.config.UID
	attr.Gid = fsys.config.GID
	if !mtime.IsZero() {
		attr.SetTimes(&mtime, &mtime, &mtime)
	}
}

// accessMode derives the remote access mode from open(2) flags.
func accessMode(flags uint32) types.AccessMode {
	switch int(flags) & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return types.ModeWrite
	case syscall.O_RDWR:
		return types.ModeReadWrite
	default:
		return types.ModeRead
	}
}

// rootNode lists one directory per connection profile.
type rootNode struct {
	fs.Inode
	fsys *FileSystem
}

var _ fs.NodeOnAdder = (*rootNode)(nil)
var _ fs.NodeGetattrer = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	for _, p := range r.fsys.profiles {
		child := r.NewPersistentInode(ctx, &dirNode{fsys: r.fsys, profile: p}, fs.StableAttr{Mode: fuse.S_IFDIR})
		r.AddChild(p.Name, child, true)
	}
}

func (r *rootNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	r.fsys.dirAttr(&out.Attr)
	return 0
}

// dirNode is a directory on a share. Remote directories are not listed;
// children appear once looked up, created or made with mkdir.
type dirNode struct {
	fs.Inode
	fsys    *FileSystem
	profile *types.Profile
	path    string
}

var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeCreater = (*dirNode)(nil)
var _ fs.NodeMkdirer = (*dirNode)(nil)
var _ fs.NodeGetattrer = (*dirNode)(nil)

func (n *dirNode) join(name string) string {
	if n.path == "" {
		return name
	}
	return path.Join(n.path, name)
}

func (n *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fsys.dirAttr(&out.Attr)
	return 0
}

// Lookup looks up a child node by name
func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.lookups.Add(1)

	if child := n.GetChild(name); child != nil {
		if child.IsDir() {
			n.fsys.dirAttr(&out.Attr)
			return child, 0
		}
	}

	childPath := n.join(name)
	info, err := n.fsys.opener.Stat(ctx, n.profile, childPath)
	if err != nil {
		return nil, n.fsys.errno("lookup", childPath, err)
	}

	node := &fileNode{fsys: n.fsys, profile: n.profile, path: childPath, info: info}
	n.fsys.fileAttr(&out.Attr, info.Size, info.ModTime)
	return n.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// Mkdir creates a local directory. Object stores have no directories, so
// nothing is sent to the remote until a file is created inside it.
func (n *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}
	child := &dirNode{fsys: n.fsys, profile: n.profile, path: n.join(name)}
	n.fsys.dirAttr(&out.Attr)
	return n.NewPersistentInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Create creates a new file
func (n *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	n.fsys.creates.Add(1)

	childPath := n.join(name)
	am := accessMode(flags)
	if !am.CanWrite() {
		am = types.ModeWrite
	}

	file, err := n.fsys.opener.Open(ctx, n.profile, childPath, am)
	if err != nil {
		return nil, nil, 0, n.fsys.errno("create", childPath, err)
	}

	node := &fileNode{
		fsys:    n.fsys,
		profile: n.profile,
		path:    childPath,
		info:    types.FileInfo{Path: childPath, ModTime: time.Now()},
	}
	n.fsys.fileAttr(&out.Attr, 0, node.info.ModTime)
	inode := n.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &fileHandle{fsys: n.fsys, node: node, file: file}, 0, 0
}

// fileNode is a remote file.
type fileNode struct {
	fs.Inode
	fsys    *FileSystem
	profile *types.Profile
	path    string

	mu   sync.Mutex
	info types.FileInfo
}

var _ fs.NodeOpener = (*fileNode)(nil)
var _ fs.NodeGetattrer = (*fileNode)(nil)
var _ fs.NodeSetattrer = (*fileNode)(nil)

func (f *fileNode) cachedInfo() types.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fileNode) setInfo(info types.FileInfo) {
	f.mu.Lock()
	f.info = info
	f.mu.Unlock()
}

// Open opens a file
func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f.fsys.opens.Add(1)

	mode := accessMode(flags)
	if f.fsys.config.ReadOnly && mode.CanWrite() {
		return nil, 0, syscall.EROFS
	}

	file, err := f.fsys.opener.Open(ctx, f.profile, f.path, mode)
	if err != nil {
		return nil, 0, f.fsys.errno("open", f.path, err)
	}
	return &fileHandle{fsys: f.fsys, node: f, file: file}, 0, 0
}

// Getattr gets file attributes. With an open handle the size includes
// writes that have not been committed yet.
func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*fileHandle); ok {
		return h.Getattr(ctx, out)
	}

	info, err := f.fsys.opener.Stat(ctx, f.profile, f.path)
	switch {
	case err == nil:
		f.setInfo(info)
	case errors.IsCode(err, errors.ErrCodeNotFound) && !f.cachedInfo().Exists:
		// created but not committed yet
		info = f.cachedInfo()
	default:
		return f.fsys.errno("getattr", f.path, err)
	}

	f.fsys.fileAttr(&out.Attr, info.Size, info.ModTime)
	return 0
}

// Setattr accepts attribute changes that need no remote call. Resizing is
// only supported when it does not change the size.
func (f *fileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var attr fuse.AttrOut
	if errno := f.Getattr(ctx, fh, &attr); errno != 0 {
		return errno
	}
	if size, ok := in.GetSize(); ok && size != attr.Size {
		if f.fsys.config.ReadOnly {
			return syscall.EROFS
		}
		return syscall.ENOTSUP
	}
	out.Attr = attr.Attr
	return 0
}

// fileHandle represents an open file handle
type fileHandle struct {
	fsys *FileSystem
	node *fileNode
	file *filesystem.ProxyFile
}

var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileWriter = (*fileHandle)(nil)
var _ fs.FileFsyncer = (*fileHandle)(nil)
var _ fs.FileFlusher = (*fileHandle)(nil)
var _ fs.FileReleaser = (*fileHandle)(nil)
var _ fs.FileGetattrer = (*fileHandle)(nil)

// Read reads data from the file
func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.fsys.reads.Add(1)
	n, err := h.file.Read(ctx, dest, off)
	if err != nil {
		return nil, h.fsys.errno("read", h.node.path, err)
	}
	h.fsys.bytesRead.Add(int64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data to the file
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.fsys.writes.Add(1)
	n, err := h.file.Write(ctx, data, off)
	if err != nil {
		return safeIntToUint32(n), h.fsys.errno("write", h.node.path, err)
	}
	h.fsys.bytesWritten.Add(int64(n))
	return safeIntToUint32(n), 0
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.fsys.errno("fsync", h.node.path, h.file.Fsync(ctx))
}

// Flush is called on every close(2) of a descriptor. The data is committed
// on the last one, in Release.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release commits written data and frees the admission slot.
func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	return h.fsys.errno("release", h.node.path, h.file.Release())
}

func (h *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	size, err := h.file.GetSize(ctx)
	if err != nil {
		return h.fsys.errno("getattr", h.node.path, err)
	}
	h.fsys.fileAttr(&out.Attr, size, h.node.cachedInfo().ModTime)
	return 0
}
