// Package fuseview is the FUSE-backed fallback for the overlay composer
// (component F): when the kernel lacks overlayfs support, or an overlay
// mount fails and -f/--fallback is not set, it serves the same merged
// dependency view read-only through a small in-process file system
// instead of a mount(2) overlay.
//
// Adapted from the teacher's internal/fuse/fuse.go: the dirent/dir inode
// bookkeeping and the fuseutil.FileSystem method set are kept, but rebuilt
// around real dependency directories on disk instead of SquashFS package
// images, and the directory tree is built once at mount time (in
// parallel, via golang.org/x/sync/errgroup) rather than lazily per
// package store lookup.
package fuseview

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const rootInode fuseops.InodeID = fuseops.RootInodeID

// never caches attributes for the lifetime of the mount: the merged view is
// immutable once built (spec.md §4.6's composition does not change during
// a single invocation).
var never = time.Now().Add(365 * 24 * time.Hour)

// dirent is one entry inside a directory: a directory, a regular file
// backed by a real path, or a symlink with a literal target.
type dirent struct {
	name       string
	inode      fuseops.InodeID
	isDir      bool
	linkTarget string // non-empty for symlinks
	realPath   string // backing file for regular files
}

func (d *dirent) mode() os.FileMode {
	switch {
	case d.isDir:
		return os.ModeDir | 0555
	case d.linkTarget != "":
		return os.ModeSymlink | 0444
	default:
		return 0444
	}
}

type dirNode struct {
	entries []*dirent
	byName  map[string]*dirent
}

// FS serves a read-only merged view of a set of lowerdir roots, highest
// priority first: when the same relative path exists under more than one
// root, the entry from the earliest root wins, mirroring overlayfs
// lowerdir precedence.
type FS struct {
	fuseutil.NotImplementedFileSystem

	mu     sync.Mutex
	inodes map[fuseops.InodeID]interface{} // *dirNode or *dirent
	dirs   map[string]*dirNode             // keyed by view-relative path, for build bookkeeping
	nextID fuseops.InodeID
}

// Build constructs the merged directory tree for roots (each an absolute
// path whose own subtree is unioned into the view), scanning each root
// concurrently with the others.
func Build(ctx context.Context, roots []string) (*FS, error) {
	fs := &FS{
		inodes: make(map[fuseops.InodeID]interface{}),
		dirs:   make(map[string]*dirNode),
		nextID: rootInode,
	}
	root := &dirNode{byName: make(map[string]*dirent)}
	fs.dirs["."] = root
	fs.inodes[rootInode] = root

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range roots {
		i, r := i, r
		g.Go(func() error {
			return fs.scanRoot(ctx, &mu, i, r)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fs, nil
}

// scanRoot walks root and inserts every entry into the merged tree,
// skipping any relative path already claimed by an earlier (lower index,
// thus higher priority) root.
func (fs *FS) scanRoot(ctx context.Context, mu sync.Locker, priority int, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mu.Lock()
		defer mu.Unlock()
		parentRel := filepath.Dir(rel)
		parent := fs.dirs[parentRel]
		if parent == nil {
			// A higher-priority root already shadowed this path's parent with a
			// non-directory entry; nothing to attach to.
			return filepath.SkipDir
		}
		name := filepath.Base(rel)
		if _, exists := parent.byName[name]; exists {
			if info.IsDir() {
				return nil // descend to let nested new entries merge in
			}
			return nil
		}

		if info.IsDir() {
			child := &dirNode{byName: make(map[string]*dirent)}
			fs.nextID++
			id := fs.nextID
			fs.inodes[id] = child
			fs.dirs[rel] = child
			d := &dirent{name: name, inode: id, isDir: true}
			parent.entries = append(parent.entries, d)
			parent.byName[name] = d
			return nil
		}

		fs.nextID++
		id := fs.nextID
		var d *dirent
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			d = &dirent{name: name, inode: id, linkTarget: target}
		} else {
			d = &dirent{name: name, inode: id, realPath: path}
		}
		fs.inodes[id] = d
		parent.entries = append(parent.entries, d)
		parent.byName[name] = d
		return nil
	})
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 65536
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, ok := fs.inodes[op.Parent].(*dirNode)
	if !ok {
		return fuse.EIO
	}
	d, ok := parent.byName[op.Name]
	if !ok {
		return fuse.ENOENT
	}
	op.Entry.Child = d.inode
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	op.Entry.Attributes = fs.attributesLocked(d)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	op.AttributesExpiration = never
	switch v := fs.inodes[op.Inode].(type) {
	case *dirNode:
		op.Attributes = fuseops.InodeAttributes{Nlink: 1, Mode: os.ModeDir | 0555}
	case *dirent:
		op.Attributes = fs.attributesLocked(v)
	default:
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) attributesLocked(d *dirent) fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{Nlink: 1, Mode: d.mode()}
	if d.linkTarget != "" {
		attrs.Size = uint64(len(d.linkTarget))
	} else if d.realPath != "" {
		if info, err := os.Stat(d.realPath); err == nil {
			attrs.Size = uint64(info.Size())
			attrs.Mode = info.Mode()
		}
	}
	return attrs
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.inodes[op.Inode].(*dirNode); !ok {
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dn, ok := fs.inodes[op.Inode].(*dirNode)
	fs.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}

	if op.Offset > fuseops.DirOffset(len(dn.entries)) {
		return fuse.EIO
	}

	for i := int(op.Offset); i < len(dn.entries); i++ {
		d := dn.entries[i]
		typ := fuseutil.DT_File
		if d.isDir {
			typ = fuseutil.DT_Directory
		} else if d.linkTarget != "" {
			typ = fuseutil.DT_Link
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  d.inode,
			Name:   d.name,
			Type:   typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	_, ok := fs.inodes[op.Inode].(*dirent)
	fs.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	d, ok := fs.inodes[op.Inode].(*dirent)
	fs.mu.Unlock()
	if !ok || d.realPath == "" {
		return fuse.ENOENT
	}
	f, err := os.Open(d.realPath)
	if err != nil {
		return xerrors.Errorf("fuseview: %w", err)
	}
	defer f.Close()
	n, err := f.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil && err != io.EOF {
		return xerrors.Errorf("fuseview: %w", err)
	}
	return nil
}

func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	d, ok := fs.inodes[op.Inode].(*dirent)
	fs.mu.Unlock()
	if !ok || d.linkTarget == "" {
		return fuse.ENOENT
	}
	op.Target = d.linkTarget
	return nil
}

// Mount starts serving fs at mountpoint and returns the server for the
// caller to Join/Unmount. Kept thin deliberately: cmd/runner decides when
// to reach for this fallback and how long to keep it mounted.
func Mount(mountpoint string, fs *FS) (*fuse.MountedFileSystem, error) {
	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		ReadOnly: true,
		FSName:   "runner-fuseview",
	})
	if err != nil {
		return nil, xerrors.Errorf("fuseview: mount: %w", err)
	}
	return mfs, nil
}
