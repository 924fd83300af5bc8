package sshservice

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// DirEntry is a single file or directory entry returned by ListDir.
type DirEntry struct {
	Name       string
	Type       string // "file" | "dir" | "symlink"
	Size       int64
	Mode       string
	ModifiedAt time.Time
}

// OpenSFTP opens an SFTP subsystem session multiplexed over handle's
// existing SSH connection — no second TCP dial, consistent with the pool's
// invariant of at most one active pooled connection per session.
func (s *Service) OpenSFTP(handle any) (*sftp.Client, error) {
	h, ok := handle.(*connHandle)
	if !ok {
		return nil, fmt.Errorf("sshservice: unexpected handle type %T", handle)
	}
	client, err := sftp.NewClient(h.client)
	if err != nil {
		return nil, fmt.Errorf("sshservice: open sftp subsystem: %w", err)
	}
	return client, nil
}

// ListDir returns every entry under dirPath.
func ListDir(client *sftp.Client, dirPath string) ([]DirEntry, error) {
	infos, err := client.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("sftp: readdir %q: %w", dirPath, err)
	}
	entries := make([]DirEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, DirEntry{
			Name:       fi.Name(),
			Type:       entryType(fi),
			Size:       fi.Size(),
			Mode:       fi.Mode().String(),
			ModifiedAt: fi.ModTime().UTC(),
		})
	}
	return entries, nil
}

// Stat returns metadata for a single remote path.
func Stat(client *sftp.Client, remotePath string) (DirEntry, error) {
	fi, err := client.Stat(remotePath)
	if err != nil {
		return DirEntry{}, fmt.Errorf("sftp: stat %q: %w", remotePath, err)
	}
	return DirEntry{
		Name:       path.Base(remotePath),
		Type:       entryType(fi),
		Size:       fi.Size(),
		Mode:       fi.Mode().String(),
		ModifiedAt: fi.ModTime().UTC(),
	}, nil
}

// Mkdir creates a single directory (no intermediate directories).
func Mkdir(client *sftp.Client, remotePath string) error {
	if err := client.Mkdir(remotePath); err != nil {
		return fmt.Errorf("sftp: mkdir %q: %w", remotePath, err)
	}
	return nil
}

// Delete removes a file, empty directory, or symlink at remotePath.
func Delete(client *sftp.Client, remotePath string) error {
	fi, err := client.Lstat(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: stat %q: %w", remotePath, err)
	}
	if fi.IsDir() && fi.Mode()&os.ModeSymlink == 0 {
		if err := client.RemoveDirectory(remotePath); err != nil {
			return fmt.Errorf("sftp: rmdir %q: %w", remotePath, err)
		}
		return nil
	}
	if err := client.Remove(remotePath); err != nil {
		return fmt.Errorf("sftp: remove %q: %w", remotePath, err)
	}
	return nil
}

func entryType(fi os.FileInfo) string {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case fi.IsDir():
		return "dir"
	default:
		return "file"
	}
}
