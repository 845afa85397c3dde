package cloud

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}

	return "file"
}

// HashType identifies the algorithm behind a remote content hash.
// The zero value means the backend reported no hash.
type HashType int

const (
	HashNone HashType = iota
	HashSHA1
	HashSHA256
	HashMD5
	HashQuickXor
)

var hashTypeNames = map[HashType]string{
	HashNone:     "none",
	HashSHA1:     "sha1",
	HashSHA256:   "sha256",
	HashMD5:      "md5",
	HashQuickXor: "quickxor",
}

func (h HashType) String() string {
	if s, ok := hashTypeNames[h]; ok {
		return s
	}

	return fmt.Sprintf("hash(%d)", int(h))
}

// ParseHashType is the inverse of HashType.String.
func ParseHashType(s string) (HashType, error) {
	for h, name := range hashTypeNames {
		if strings.EqualFold(name, s) {
			return h, nil
		}
	}

	return HashNone, fmt.Errorf("cloud: unknown hash type %q", s)
}

// FileData holds the file-only fields of an Item.
type FileData struct {
	HashType    HashType
	HashValue   string
	Size        int64
	DownloadURL string // pre-authenticated and ephemeral; never log
}

// Item is one remote file or folder. Folder children keep arrival order.
type Item struct {
	ID           string
	Name         string
	Kind         Kind
	LastSyncTime time.Time
	File         FileData

	parent   *Item
	children []*Item
}

// NewFolder returns a folder item with no children.
func NewFolder(id, name string) *Item {
	return &Item{ID: id, Name: name, Kind: KindFolder}
}

// NewFile returns a file item.
func NewFile(id, name string, data FileData) *Item {
	return &Item{ID: id, Name: name, Kind: KindFile, File: data}
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.Kind == KindFolder
}

// Parent returns the folder holding this item, or nil.
func (i *Item) Parent() *Item {
	return i.parent
}

// Len returns the number of children.
func (i *Item) Len() int {
	return len(i.children)
}

// Children returns a copy of the child slice in arrival order.
func (i *Item) Children() []*Item {
	out := make([]*Item, len(i.children))
	copy(out, i.children)

	return out
}

// Child returns the first child whose name matches after NFC normalization.
func (i *Item) Child(name string) *Item {
	want := norm.NFC.String(name)

	for _, c := range i.children {
		if norm.NFC.String(c.Name) == want {
			return c
		}
	}

	return nil
}

// AppendChildren links items after the current tail, in order. Nothing is
// appended if any item would violate the tree invariants.
func (i *Item) AppendChildren(items ...*Item) error {
	if !i.IsFolder() {
		return fmt.Errorf("%w: %q is not a folder", ErrInvalidTree, i.Name)
	}

	seen := make(map[*Item]bool, len(items))

	for _, c := range items {
		if c == nil {
			return fmt.Errorf("%w: nil child", ErrInvalidTree)
		}

		if c.parent != nil || seen[c] {
			return fmt.Errorf("%w: %q already belongs to a folder", ErrInvalidTree, c.Name)
		}

		if i.hasAncestorOrSelf(c) {
			return fmt.Errorf("%w: appending %q to %q creates a cycle", ErrInvalidTree, c.Name, i.Name)
		}

		seen[c] = true
	}

	for _, c := range items {
		c.parent = i
	}

	i.children = append(i.children, items...)

	return nil
}

// RemoveChild unlinks c. It reports whether c was a child of i.
func (i *Item) RemoveChild(c *Item) bool {
	for idx, existing := range i.children {
		if existing == c {
			i.children = append(i.children[:idx], i.children[idx+1:]...)
			c.parent = nil

			return true
		}
	}

	return false
}

// Update copies freshly fetched metadata into i, keeping i's identity and
// position in the tree. Children are left alone.
func (i *Item) Update(other *Item) {
	if other == nil {
		return
	}

	if other.ID != "" {
		i.ID = other.ID
	}

	i.Name = other.Name
	i.Kind = other.Kind
	i.File = other.File
	i.LastSyncTime = other.LastSyncTime
}

func (i *Item) hasAncestorOrSelf(c *Item) bool {
	for p := i; p != nil; p = p.parent {
		if p == c {
			return true
		}
	}

	return false
}
