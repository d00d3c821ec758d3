/*
Package fuse mounts sharefs connections as a FUSE filesystem using go-fuse.

The root directory holds one directory per connection profile. Below it,
paths map one to one onto remote paths on the profile's share:

	/mnt/sharefs/
	├── office/          profile "office"  (smb://jdoe@fileserver/docs)
	│   └── reports/q3.csv
	└── media/           profile "media"   (s3://s3.amazonaws.com/media)

Each open(2) gets its own filesystem.ProxyFile. Reads and writes are served
by its read-ahead and write-coalescing pipelines; the written data is
committed when the last descriptor is released. Remote directories are not
listed: a name becomes visible once it is looked up, created, or made with
mkdir. Truncating a non-empty file is not supported and fails with ENOTSUP.

Errors are translated with errors.ToErrno, so a missing file is ENOENT, a
rejected login is EACCES and an unreachable host is EHOSTUNREACH.

Usage:

	fsys := fuse.NewFileSystem(adapter, cfg.Connections, &fuse.Config{
		FileMode: 0644,
		DirMode:  0755,
		UID:      uint32(os.Getuid()),
		GID:      uint32(os.Getgid()),
	}, logger)

	mm := fuse.NewMountManager(fsys, fuse.DefaultMountConfig("/mnt/sharefs"), logger)
	if err := mm.Mount(ctx); err != nil {
		return err
	}
	defer mm.Unmount()
	mm.Wait()
*/
package fuse
