//go:build unix

package keystore

import (
	"io/fs"

	"github.com/glinharesb/signatory-go/internal/signature"
)

func checkMode(root string, info fs.FileInfo) error {
	if perm := info.Mode().Perm(); perm != dirMode {
		return signature.Errorf(signature.KindPermissions, "keystore: open", "%s has mode %04o, want %04o", root, perm, dirMode)
	}
	return nil
}
