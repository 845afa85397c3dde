// Package syncer keeps local role directories and their remote folders in
// step for one provider. A sync pass uploads local files the remote lacks
// or holds a different version of, then downloads remote files the local
// side lacks or holds a different version of. Versions are compared by the
// hash type the backend reports.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/savesync/internal/checksum"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/ledger"
)

// DefaultStaleAfter is how long cached remote metadata is trusted before
// it is re-fetched.
const DefaultStaleAfter = 30 * time.Second

const localDirPerms = 0o755

// ErrNoRoleDir is returned for a role with no configured local directory.
var ErrNoRoleDir = errors.New("syncer: no local directory for role")

// Ledger records runs and transfers. *ledger.Ledger implements it.
type Ledger interface {
	BeginRun(ctx context.Context, provider string) (string, error)
	RecordTransfer(ctx context.Context, t ledger.Transfer) error
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// TransferObserver counts transfers. *metrics.Metrics implements it.
type TransferObserver interface {
	ObserveTransfer(provider, direction string, bytes int64)
}

// Config configures a Syncer.
type Config struct {
	Provider cloud.Provider

	// Roles maps each synced role to its local directory.
	Roles map[cloud.Role]string

	Filter   *Filter
	Ledger   Ledger           // optional
	Observer TransferObserver // optional

	// StaleAfter bounds the age of cached remote metadata. Zero uses
	// DefaultStaleAfter.
	StaleAfter time.Duration

	Logger *slog.Logger
}

// Syncer runs sync passes for one provider. Calls are serialized; the
// provider sees one operation at a time.
type Syncer struct {
	provider   cloud.Provider
	roles      map[cloud.Role]string
	filter     *Filter
	ledger     Ledger
	observer   TransferObserver
	staleAfter time.Duration
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu      sync.Mutex
	folders map[cloud.Role]*cloud.Item
}

// New returns a Syncer for cfg.
func New(cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}

	roles := make(map[cloud.Role]string, len(cfg.Roles))
	for r, dir := range cfg.Roles {
		if dir != "" {
			roles[r] = filepath.Clean(dir)
		}
	}

	return &Syncer{
		provider:   cfg.Provider,
		roles:      roles,
		filter:     cfg.Filter,
		ledger:     cfg.Ledger,
		observer:   cfg.Observer,
		staleAfter: stale,
		logger:     logger.With(slog.String("provider", cfg.Provider.Name())),
		nowFunc:    time.Now,
		folders:    make(map[cloud.Role]*cloud.Item),
	}
}

// Provider returns the backend this syncer drives.
func (s *Syncer) Provider() cloud.Provider { return s.provider }

// Roles returns the configured roles in sync order.
func (s *Syncer) Roles() []cloud.Role {
	out := make([]cloud.Role, 0, len(s.roles))

	for _, r := range cloud.Roles {
		if _, ok := s.roles[r]; ok {
			out = append(out, r)
		}
	}

	return out
}

// Dir returns the local directory of role.
func (s *Syncer) Dir(role cloud.Role) (string, error) {
	dir, ok := s.roles[role]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrNoRoleDir, role)
	}

	return dir, nil
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Provider  string
	Transfers []ledger.Transfer
	Skipped   int
	Errors    []error
}

// Uploads counts upload transfers.
func (r *Report) Uploads() int { return r.count(ledger.Upload) }

// Downloads counts download transfers.
func (r *Report) Downloads() int { return r.count(ledger.Download) }

func (r *Report) count(d ledger.Direction) int {
	n := 0

	for i := range r.Transfers {
		if r.Transfers[i].Direction == d {
			n++
		}
	}

	return n
}

// Err joins the per-file errors.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

// PrepareFolder returns the remote folder for role with its listing,
// creating the folder when it does not exist. The result is cached.
func (s *Syncer) PrepareFolder(ctx context.Context, role cloud.Role) (*cloud.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.prepareFolder(ctx, role)
}

func (s *Syncer) prepareFolder(ctx context.Context, role cloud.Role) (*cloud.Item, error) {
	if f, ok := s.folders[role]; ok {
		return f, nil
	}

	name := role.FolderName()

	folder, err := s.provider.GetFolderMetadata(ctx, name)

	switch {
	case err == nil:
		if err := s.provider.ListFiles(ctx, folder); err != nil {
			return nil, fmt.Errorf("syncer: listing %s: %w", name, err)
		}
	case cloud.IsNotFound(err):
		s.logger.Info("creating remote folder", slog.String("role", string(role)))

		folder, err = s.provider.CreateFolder(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("syncer: creating %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("syncer: resolving %s: %w", name, err)
	}

	s.folders[role] = folder

	s.logger.Debug("remote folder ready",
		slog.String("role", string(role)),
		slog.Int("children", folder.Len()),
	)

	return folder, nil
}

// Invalidate drops cached folders so the next pass re-lists them. With no
// roles every folder is dropped.
func (s *Syncer) Invalidate(roles ...cloud.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(roles) == 0 {
		clear(s.folders)
		return
	}

	for _, r := range roles {
		delete(s.folders, r)
	}
}

// SyncRole runs one pass over a single role.
func (s *Syncer) SyncRole(ctx context.Context, role cloud.Role) (*Report, error) {
	return s.Sync(ctx, role)
}

// Sync runs one pass over roles, or over every configured role when none
// are given. Roles run in order. Per-file failures are collected in the
// report and do not stop the pass; the returned error joins them.
func (s *Syncer) Sync(ctx context.Context, roles ...cloud.Role) (*Report, error) {
	if len(roles) == 0 {
		roles = s.Roles()
	}

	for _, r := range roles {
		if _, err := s.Dir(r); err != nil {
			return nil, err
		}
	}

	return s.run(ctx, func(rep *Report) error {
		for _, r := range roles {
			if err := s.syncRole(ctx, rep, r); err != nil {
				if ctx.Err() != nil {
					return err
				}

				rep.Errors = append(rep.Errors, err)
			}
		}

		return nil
	})
}

// UploadFile uploads one local file of role when the remote copy is
// missing or differs.
func (s *Syncer) UploadFile(ctx context.Context, role cloud.Role, name string) (*Report, error) {
	dir, err := s.Dir(role)
	if err != nil {
		return nil, err
	}

	if !s.filter.Match(name) || ignored(loadIgnore(dir, s.logger), name) {
		return &Report{Provider: s.provider.Name(), Skipped: 1}, nil
	}

	return s.run(ctx, func(rep *Report) error {
		folder, err := s.prepareFolder(ctx, role)
		if err != nil {
			return err
		}

		_, err = s.uploadIfNeeded(ctx, rep, role, folder, dir, name)

		return err
	})
}

// run serializes fn against other calls and brackets it with a ledger run.
func (s *Syncer) run(ctx context.Context, fn func(rep *Report) error) (*Report, error) {
	if !s.provider.ReadyForRequest() {
		return nil, fmt.Errorf("syncer: %s: %w", s.provider.Name(), cloud.ErrNotReady)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rep := &Report{Provider: s.provider.Name()}

	if s.ledger != nil {
		id, err := s.ledger.BeginRun(ctx, rep.Provider)
		if err != nil {
			return nil, fmt.Errorf("syncer: %w", err)
		}

		rep.RunID = id
	}

	err := fn(rep)
	if err == nil {
		err = rep.Err()
	}

	if s.ledger != nil {
		if finErr := s.ledger.FinishRun(context.WithoutCancel(ctx), rep.RunID, err); finErr != nil {
			s.logger.Warn("recording run result failed", slog.String("error", finErr.Error()))
		}
	}

	s.logger.Info("sync run complete",
		slog.String("run_id", rep.RunID),
		slog.Int("uploads", rep.Uploads()),
		slog.Int("downloads", rep.Downloads()),
		slog.Int("skipped", rep.Skipped),
		slog.Int("errors", len(rep.Errors)),
	)

	return rep, err
}

func (s *Syncer) syncRole(ctx context.Context, rep *Report, role cloud.Role) error {
	folder, err := s.prepareFolder(ctx, role)
	if err != nil {
		return err
	}

	dir := s.roles[role]

	uploaded, err := s.uploadPass(ctx, rep, role, folder, dir)
	if err != nil {
		return err
	}

	return s.downloadPass(ctx, rep, role, folder, dir, uploaded)
}

// uploadPass returns the names it uploaded.
func (s *Syncer) uploadPass(
	ctx context.Context, rep *Report, role cloud.Role, folder *cloud.Item, dir string,
) (map[string]bool, error) {
	uploaded := make(map[string]bool)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return uploaded, nil
	}

	if err != nil {
		return nil, fmt.Errorf("syncer: reading %s: %w", dir, err)
	}

	gi := loadIgnore(dir, s.logger)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("syncer: %w: %w", cloud.ErrTransport, err)
		}

		if !e.Type().IsRegular() {
			continue
		}

		if !s.filter.Match(e.Name()) || ignored(gi, e.Name()) {
			rep.Skipped++
			continue
		}

		done, err := s.uploadIfNeeded(ctx, rep, role, folder, dir, e.Name())
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}

		if done {
			uploaded[e.Name()] = true
		}
	}

	return uploaded, nil
}

// uploadIfNeeded uploads dir/name when the remote folder has no file of
// that name or its content differs, reporting whether it uploaded. A
// remote folder of that name wins.
func (s *Syncer) uploadIfNeeded(
	ctx context.Context, rep *Report, role cloud.Role, folder *cloud.Item, dir, name string,
) (bool, error) {
	local := filepath.Join(dir, name)

	info, err := os.Stat(local)
	if err != nil {
		return false, fmt.Errorf("syncer: stat %s: %w", local, err)
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	remote := folder.Child(name)

	if remote == nil {
		remote = cloud.NewFile("", name, cloud.FileData{})

		if err := s.upload(ctx, rep, role, folder, remote, local, info.Size()); err != nil {
			return false, err
		}

		if err := folder.AppendChildren(remote); err != nil {
			return true, fmt.Errorf("syncer: %w", err)
		}

		return true, nil
	}

	if !remote.IsFolder() && s.stale(remote) {
		if err := s.refresh(ctx, remote); err != nil {
			s.logger.Warn("refreshing remote metadata failed",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}

	if remote.IsFolder() {
		s.logger.Debug("remote folder shadows local file",
			slog.String("role", string(role)), slog.String("name", name))

		rep.Skipped++

		return false, nil
	}

	same, err := checksum.Matches(local, remote)
	if err != nil {
		return false, fmt.Errorf("syncer: hashing %s: %w", local, err)
	}

	if same {
		return false, nil
	}

	if err := s.upload(ctx, rep, role, folder, remote, local, info.Size()); err != nil {
		return false, err
	}

	return true, nil
}

func (s *Syncer) upload(
	ctx context.Context, rep *Report, role cloud.Role, folder, remote *cloud.Item, local string, size int64,
) error {
	if err := s.provider.UploadFile(ctx, folder, remote, local); err != nil {
		return err
	}

	// Backends that do not echo a hash get the locally computed one.
	if remote.File.HashValue == "" && remote.File.HashType != cloud.HashNone {
		if h, err := checksum.File(local, remote.File.HashType); err == nil {
			remote.File.HashValue = h
		}
	}

	remote.File.Size = size
	remote.LastSyncTime = s.nowFunc()

	s.record(ctx, rep, role, remote, ledger.Upload, size)

	return nil
}

// downloadPass skips names the upload pass of the same run just sent.
func (s *Syncer) downloadPass(
	ctx context.Context, rep *Report, role cloud.Role, folder *cloud.Item, dir string, uploaded map[string]bool,
) error {
	gi := loadIgnore(dir, s.logger)

	for _, remote := range folder.Children() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("syncer: %w: %w", cloud.ErrTransport, err)
		}

		if remote.IsFolder() || uploaded[remote.Name] {
			continue
		}

		if !safeName(remote.Name) {
			s.logger.Warn("skipping remote file with unsafe name", slog.String("name", remote.Name))
			rep.Skipped++

			continue
		}

		if !s.filter.Match(remote.Name) || ignored(gi, remote.Name) {
			rep.Skipped++
			continue
		}

		if s.stale(remote) {
			if err := s.refresh(ctx, remote); err != nil {
				s.logger.Warn("refreshing remote metadata failed, skipping",
					slog.String("name", remote.Name), slog.String("error", err.Error()))

				rep.Skipped++

				continue
			}

			if remote.IsFolder() {
				continue
			}
		}

		if err := s.downloadIfNeeded(ctx, rep, role, remote, filepath.Join(dir, remote.Name)); err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}

	return nil
}

func (s *Syncer) downloadIfNeeded(ctx context.Context, rep *Report, role cloud.Role, remote *cloud.Item, local string) error {
	info, err := os.Stat(local)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("syncer: stat %s: %w", local, err)
	case info.IsDir():
		rep.Skipped++
		return nil
	default:
		same, err := checksum.Matches(local, remote)
		if err != nil {
			return fmt.Errorf("syncer: hashing %s: %w", local, err)
		}

		if same {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(local), localDirPerms); err != nil {
		return fmt.Errorf("syncer: creating %s: %w", filepath.Dir(local), err)
	}

	if err := s.provider.DownloadFile(ctx, remote, local); err != nil {
		return err
	}

	size := remote.File.Size
	if st, err := os.Stat(local); err == nil {
		size = st.Size()
	}

	s.record(ctx, rep, role, remote, ledger.Download, size)

	return nil
}

func (s *Syncer) stale(item *cloud.Item) bool {
	return s.nowFunc().Sub(item.LastSyncTime) > s.staleAfter
}

func (s *Syncer) refresh(ctx context.Context, item *cloud.Item) error {
	fresh, err := s.provider.GetFileMetadata(ctx, item)
	if err != nil {
		return err
	}

	item.Update(fresh)
	item.LastSyncTime = s.nowFunc()

	return nil
}

func (s *Syncer) record(ctx context.Context, rep *Report, role cloud.Role, item *cloud.Item, dir ledger.Direction, size int64) {
	t := ledger.Transfer{
		RunID:     rep.RunID,
		Provider:  rep.Provider,
		Role:      role,
		Name:      item.Name,
		Direction: dir,
		HashType:  item.File.HashType,
		Hash:      item.File.HashValue,
		Size:      size,
		At:        s.nowFunc(),
	}

	rep.Transfers = append(rep.Transfers, t)

	s.logger.Info("transferred file",
		slog.String("role", string(role)),
		slog.String("name", item.Name),
		slog.String("direction", string(dir)),
		slog.Int64("size", size),
	)

	if s.observer != nil {
		s.observer.ObserveTransfer(rep.Provider, string(dir), size)
	}

	if s.ledger != nil {
		if err := s.ledger.RecordTransfer(context.WithoutCancel(ctx), t); err != nil {
			s.logger.Warn("recording transfer failed", slog.String("error", err.Error()))
		}
	}
}

// safeName rejects remote names that would escape the role directory.
func safeName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && filepath.IsLocal(name)
}
