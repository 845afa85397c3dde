package cloud

import (
	"context"
	"fmt"
)

// AuthorizationStatus is the immediate result of Provider.Authorize.
type AuthorizationStatus int

const (
	// AuthFailed means consent cannot start (no client id, no listener).
	AuthFailed AuthorizationStatus = iota
	// AuthPending means the caller must wait for the callback.
	AuthPending
	// AuthComplete means the provider already holds usable credentials.
	AuthComplete
)

func (s AuthorizationStatus) String() string {
	switch s {
	case AuthPending:
		return "pending"
	case AuthComplete:
		return "complete"
	default:
		return "failed"
	}
}

// Provider is the capability set every storage backend implements. All
// operations except Authorize block until resolved and may perform one
// transparent re-authentication retry. At most one operation may be
// outstanding per provider.
type Provider interface {
	Name() string

	// NeedAuthorization reports whether the backend uses interactive consent.
	NeedAuthorization() bool
	HaveDefaultCredentials() bool
	ReadyForRequest() bool

	// Authenticate refreshes credentials synchronously.
	Authenticate(ctx context.Context) error

	// Authorize starts interactive consent. When it returns AuthPending,
	// callback fires exactly once when consent resolves.
	Authorize(ctx context.Context, callback func(success bool)) AuthorizationStatus

	// ListFiles appends the folder's remote children after its existing ones.
	ListFiles(ctx context.Context, folder *Item) error
	DownloadFile(ctx context.Context, file *Item, localPath string) error

	// UploadFile writes localPath to dir. file is either an existing remote
	// item or a new, unattached item with only Name set; on success it is
	// updated in place with the remote id and hash.
	UploadFile(ctx context.Context, dir, file *Item, localPath string) error

	GetFolderMetadata(ctx context.Context, name string) (*Item, error)
	GetFileMetadata(ctx context.Context, file *Item) (*Item, error)
	GetFileMetadataByName(ctx context.Context, folder *Item, name string) (*Item, error)
	DeleteFile(ctx context.Context, file *Item) error
	CreateFolder(ctx context.Context, name string) (*Item, error)
}

// Role names one of the well-known synced folders.
type Role string

const (
	RoleSaveGames   Role = "save_games"
	RoleSaveStates  Role = "save_states"
	RoleRuntimeLogs Role = "runtime_logs"
	RoleScreenshots Role = "screenshots"
)

// Roles lists every role in sync order.
var Roles = []Role{RoleSaveGames, RoleSaveStates, RoleRuntimeLogs, RoleScreenshots}

// FolderName is the remote folder name used for the role.
func (r Role) FolderName() string {
	return string(r)
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}

	return "", fmt.Errorf("cloud: unknown folder role %q (want one of save_games, save_states, runtime_logs, screenshots)", s)
}
