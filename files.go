package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/savesync/internal/cloud"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <role>",
		Short: "List the remote folder of a role",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <role> <name>",
		Short: "Display remote file metadata",
		Args:  cobra.ExactArgs(2),
		RunE:  runStat,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <role> <name> [local-path]",
		Short: "Download a remote file",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <role> <local-path>",
		Short: "Upload a file into a role folder, replacing a file of the same name",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <role> <name>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(2),
		RunE:  runRm,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <role>",
		Short: "Create the remote folder of a role",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

// roleFolder resolves the remote folder of the role named in arg.
func roleFolder(ctx context.Context, p cloud.Provider, arg string) (cloud.Role, *cloud.Item, error) {
	role, err := cloud.ParseRole(arg)
	if err != nil {
		return "", nil, err
	}

	folder, err := p.GetFolderMetadata(ctx, role.FolderName())
	if err != nil {
		if cloud.IsNotFound(err) {
			return "", nil, fmt.Errorf("remote folder %q does not exist (run 'savesync mkdir %s')", role.FolderName(), role)
		}

		return "", nil, err
	}

	return role, folder, nil
}

// itemJSON is the JSON output schema for one remote item.
type itemJSON struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	IsFolder     bool   `json:"is_folder"`
	Size         int64  `json:"size"`
	HashType     string `json:"hash_type,omitempty"`
	Hash         string `json:"hash,omitempty"`
	LastSyncTime string `json:"last_sync_time"`
}

func toItemJSON(it *cloud.Item) itemJSON {
	out := itemJSON{
		Name:         it.Name,
		ID:           it.ID,
		IsFolder:     it.IsFolder(),
		LastSyncTime: it.LastSyncTime.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if !it.IsFolder() {
		out.Size = it.File.Size
		out.HashType = it.File.HashType.String()
		out.Hash = it.File.HashValue
	}

	return out
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	_, folder, err := roleFolder(ctx, p, args[0])
	if err != nil {
		return err
	}

	if err := p.ListFiles(ctx, folder); err != nil {
		return fmt.Errorf("listing %s: %w", folder.Name, err)
	}

	items := folder.Children()

	cc.Logger.Debug("ls", slog.String("folder", folder.Name), slog.Int("items", len(items)))

	if cc.JSON {
		out := make([]itemJSON, 0, len(items))
		for _, it := range items {
			out = append(out, toItemJSON(it))
		}

		return printJSON(cc.Out, out)
	}

	// Folders first, then alphabetical.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder() != items[j].IsFolder() {
			return items[i].IsFolder()
		}

		return items[i].Name < items[j].Name
	})

	rows := make([][]string, 0, len(items))

	for _, it := range items {
		if it.IsFolder() {
			rows = append(rows, []string{it.Name + "/", "-", "-"})
			continue
		}

		rows = append(rows, []string{it.Name, formatSize(it.File.Size), shortHash(it.File.HashValue)})
	}

	printTable(cc.Out, []string{"NAME", "SIZE", "HASH"}, rows)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	_, folder, err := roleFolder(ctx, p, args[0])
	if err != nil {
		return err
	}

	item, err := p.GetFileMetadataByName(ctx, folder, args[1])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[1], err)
	}

	if cc.JSON {
		return printJSON(cc.Out, toItemJSON(item))
	}

	kind := "file"
	if item.IsFolder() {
		kind = "folder"
	}

	fmt.Fprintf(cc.Out, "Name:     %s\n", item.Name)
	fmt.Fprintf(cc.Out, "ID:       %s\n", item.ID)
	fmt.Fprintf(cc.Out, "Type:     %s\n", kind)

	if !item.IsFolder() {
		fmt.Fprintf(cc.Out, "Size:     %s (%d bytes)\n", formatSize(item.File.Size), item.File.Size)
		fmt.Fprintf(cc.Out, "Hash:     %s %s\n", item.File.HashType, item.File.HashValue)
	}

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	_, folder, err := roleFolder(ctx, p, args[0])
	if err != nil {
		return err
	}

	item, err := p.GetFileMetadataByName(ctx, folder, args[1])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[1], err)
	}

	if item.IsFolder() {
		return fmt.Errorf("%q is a folder, not a file", args[1])
	}

	localPath := filepath.Base(item.Name)
	if len(args) > 2 {
		localPath = args[2]
	}

	if err := p.DownloadFile(ctx, item, localPath); err != nil {
		return fmt.Errorf("downloading %q: %w", args[1], err)
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat after download: %w", err)
	}

	cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(fi.Size()))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	localPath := args[1]

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", localPath, err)
	}

	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%q is not a regular file", localPath)
	}

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	_, folder, err := roleFolder(ctx, p, args[0])
	if err != nil {
		return err
	}

	name := filepath.Base(localPath)

	item, err := p.GetFileMetadataByName(ctx, folder, name)

	switch {
	case err == nil && item.IsFolder():
		return fmt.Errorf("%q is a remote folder", name)
	case err == nil:
	case cloud.IsNotFound(err):
		item = cloud.NewFile("", name, cloud.FileData{})
	default:
		return fmt.Errorf("resolving %q: %w", name, err)
	}

	if err := p.UploadFile(ctx, folder, item, localPath); err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	cc.Statusf("Uploaded %s (%s)\n", name, formatSize(fi.Size()))

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	_, folder, err := roleFolder(ctx, p, args[0])
	if err != nil {
		return err
	}

	item, err := p.GetFileMetadataByName(ctx, folder, args[1])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[1], err)
	}

	if item.IsFolder() {
		return fmt.Errorf("%q is a folder; only files can be removed", args[1])
	}

	if err := p.DeleteFile(ctx, item); err != nil {
		return fmt.Errorf("deleting %q: %w", args[1], err)
	}

	cc.Statusf("Deleted %s\n", args[1])

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	role, err := cloud.ParseRole(args[0])
	if err != nil {
		return err
	}

	p, err := cc.readyProvider(ctx)
	if err != nil {
		return err
	}

	folder, err := p.CreateFolder(ctx, role.FolderName())
	if err != nil {
		return fmt.Errorf("creating %s: %w", role.FolderName(), err)
	}

	cc.Statusf("Created folder %s\n", folder.Name)

	return nil
}
