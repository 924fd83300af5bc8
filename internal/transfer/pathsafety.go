package transfer

import (
	"path"
	"strings"

	"github.com/webssh-gateway/backend/internal/gwerrors"
)

// ValidateRemotePath rejects SFTP remote paths that escape the configured
// allowedPaths allowlist. Remote paths are always POSIX-style regardless of
// the gateway's own OS, so this uses the stdlib "path" package rather than
// "path/filepath" — unlike a local-filesystem sandbox, there is no local
// inode to os.Lstat/EvalSymlinks against, so the check is purely lexical:
// clean the path, reject any remaining ".." segment, then require it to sit
// under one of the allowed roots.
func ValidateRemotePath(remote string, allowedPaths []string) error {
	if remote == "" {
		return gwerrors.New(gwerrors.KindTransfer, gwerrors.CodePathForbidden, "empty remote path")
	}

	clean := path.Clean(remote)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return gwerrors.New(gwerrors.KindTransfer, gwerrors.CodePathForbidden,
			"remote path escapes allowed roots: "+remote)
	}

	if len(allowedPaths) == 0 {
		return nil
	}
	for _, root := range allowedPaths {
		root = path.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+"/") {
			return nil
		}
	}
	return gwerrors.New(gwerrors.KindTransfer, gwerrors.CodePathForbidden,
		"remote path not under an allowed root: "+remote)
}

// BlockedByExtension reports whether filename's extension is in
// blockedExtensions (case-insensitive, leading dot optional in the list).
func BlockedByExtension(filename string, blockedExtensions []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return false
	}
	for _, b := range blockedExtensions {
		if strings.ToLower(strings.TrimPrefix(b, ".")) == ext {
			return true
		}
	}
	return false
}
