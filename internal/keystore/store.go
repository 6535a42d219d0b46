package keystore

import (
	"io/fs"
	"strings"
	"unicode"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

// ErrKeyNotFound matches Load and Delete of a label that is not stored, in
// every Store implementation.
var ErrKeyNotFound = fs.ErrNotExist

const maxLabelLen = 255

// Label names one key within a store. Labels are validated so that a label
// always maps to exactly one file directly under the store root.
type Label string

// ParseLabel validates s. It rejects empty strings, path separators, "..",
// a leading dot, control characters and labels longer than 255 bytes.
func ParseLabel(s string) (Label, error) {
	fail := func(reason string) (Label, error) {
		return "", signature.Errorf(signature.KindLabelInvalid, "keystore: label", "%q: %s", s, reason)
	}
	switch {
	case s == "":
		return fail("empty")
	case len(s) > maxLabelLen:
		return fail("too long")
	case strings.ContainsAny(s, `/\`):
		return fail("contains a path separator")
	case strings.Contains(s, ".."):
		return fail(`contains ".."`)
	case strings.HasPrefix(s, "."):
		return fail("starts with a dot")
	case strings.IndexFunc(s, unicode.IsControl) >= 0:
		return fail("contains a control character")
	}
	return Label(s), nil
}

// MustParseLabel is ParseLabel for labels known at compile time.
func MustParseLabel(s string) Label {
	l, err := ParseLabel(s)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Label) String() string {
	return string(l)
}

// Store persists PKCS#8 documents under labels. Store overwrites any prior
// document for the label.
type Store interface {
	Store(label Label, doc *pkcs8.Document) error
	Load(label Label) (*pkcs8.Document, error)
	Delete(label Label) error
	List() ([]Label, error)
}

func notFound(op string, label Label) error {
	return signature.NewError(signature.KindIO, op, &fs.PathError{Op: op, Path: string(label), Err: fs.ErrNotExist})
}
