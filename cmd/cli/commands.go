package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"

	"github.com/and161185/sync-keeper/internal/convert"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/service"
	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

type entityView struct {
	ID       string `json:"id" yaml:"id"`
	ParentID string `json:"parent_id" yaml:"parent_id"`
	Version  int64  `json:"version" yaml:"version"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Tag      string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Type     string `json:"type" yaml:"type"`
	Position int64  `json:"position" yaml:"position"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Folder   bool   `json:"folder,omitempty" yaml:"folder,omitempty"`
	Deleted  bool   `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Mtime    string `json:"mtime" yaml:"mtime"`
}

type changesView struct {
	Entries          []entityView `json:"entries" yaml:"entries"`
	NewTimestamp     int64        `json:"new_timestamp" yaml:"new_timestamp"`
	ChangesRemaining int64        `json:"changes_remaining" yaml:"changes_remaining"`
}

type resultView struct {
	Result   string `json:"result" yaml:"result"`
	ID       string `json:"id" yaml:"id"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Version  int64  `json:"version,omitempty" yaml:"version,omitempty"`
	Position int64  `json:"position,omitempty" yaml:"position,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

func viewEntity(e *pb.SyncEntity) entityView {
	v := entityView{
		ID:       e.IDString,
		ParentID: e.ParentIDString,
		Version:  e.Version,
		Name:     e.Name,
		Tag:      e.ServerDefinedUniqueTag,
		Type:     convert.FromProtoSpecifics(e.Specifics).Type.String(),
		Position: e.PositionInParent,
		Folder:   e.Folder,
		Deleted:  e.Deleted,
		Mtime:    time.UnixMilli(e.Mtime).UTC().Format(time.RFC3339),
	}
	if e.Specifics != nil && e.Specifics.Bookmark != nil {
		v.URL = e.Specifics.Bookmark.URL
	}
	return v
}

func viewResults(resp *pb.CommitResponse) []resultView {
	out := make([]resultView, 0, len(resp.EntryResponses))
	for _, r := range resp.EntryResponses {
		out = append(out, resultView{
			Result:   r.ResponseType.String(),
			ID:       r.IDString,
			ParentID: r.ParentIDString,
			Version:  r.Version,
			Position: r.PositionInParent,
			Error:    r.ErrorMessage,
		})
	}
	return out
}

func rpcErr(err error) error {
	if st, ok := status.FromError(err); ok {
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sk %s (%s)\n", version, buildDate)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		key, account string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint and save an access token for an account (needs the server signing key)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key = choose(key, os.Getenv("SYNCKEEPER_JWT_KEY"))
			if key == "" {
				return errors.New("need --key or SYNCKEEPER_JWT_KEY")
			}
			var id u.UUID
			if account == "" {
				var err error
				if id, err = u.NewV4(); err != nil {
					return err
				}
			} else {
				var err error
				if id, err = u.FromString(account); err != nil {
					return fmt.Errorf("account: %w", err)
				}
			}
			tok, exp, err := service.NewTokenService([]byte(key), ttl).Issue(id)
			if err != nil {
				return err
			}
			if err := saveToken(tok, id.String(), exp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s, token valid until %s\n", id, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "server HS256 signing key")
	cmd.Flags().StringVar(&account, "account", "", "account uuid (default: a new one)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token TTL")
	return cmd
}

// fetchChanges reads one page, or every page when all is set, starting at req.FromTimestamp.
func fetchChanges(ctx context.Context, cli pb.SyncServiceClient, req *pb.GetUpdatesRequest, all bool) (changesView, error) {
	view := changesView{Entries: []entityView{}, NewTimestamp: req.FromTimestamp}
	for {
		resp, err := cli.GetUpdates(ctx, req)
		if err != nil {
			return view, rpcErr(err)
		}
		for _, e := range resp.Entries {
			view.Entries = append(view.Entries, viewEntity(e))
		}
		view.NewTimestamp, view.ChangesRemaining = resp.NewTimestamp, resp.ChangesRemaining
		if !all || resp.ChangesRemaining == 0 || resp.NewTimestamp <= req.FromTimestamp {
			return view, nil
		}
		req.FromTimestamp = resp.NewTimestamp
	}
}

func newChangesCmd(o *connOpts, output *string) *cobra.Command {
	var (
		since int64
		types []string
		all   bool
		watch time.Duration
	)
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Fetch entries changed after a version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := model.ParseSyncTypes(types)
			if err != nil {
				return err
			}
			req := &pb.GetUpdatesRequest{FromTimestamp: since}
			for _, t := range st {
				req.RequestedTypes = append(req.RequestedTypes, convert.ToProtoDataType(t))
			}

			token, err := loadToken()
			if err != nil {
				return err
			}
			cc, cli, err := dial(*o, token)
			if err != nil {
				return err
			}
			defer cc.Close()

			for {
				ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
				view, err := fetchChanges(ctx, cli, req, all || watch > 0)
				cancel()
				if err != nil {
					if watch > 0 && cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if watch <= 0 || len(view.Entries) > 0 {
					if err := printOut(cmd.OutOrStdout(), *output, view); err != nil {
						return err
					}
				}
				if watch <= 0 {
					return nil
				}
				req.FromTimestamp = view.NewTimestamp
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(watch):
				}
			}
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "from version")
	cmd.Flags().StringSliceVar(&types, "types", []string{"bookmark"}, "requested data types")
	cmd.Flags().BoolVar(&all, "all", false, "keep paging until nothing remains")
	cmd.Flags().DurationVar(&watch, "watch", 0, "poll for new changes at this interval until interrupted")
	return cmd
}

func commitBatch(ctx context.Context, o connOpts, output string, cmd *cobra.Command, batch []model.ProposedEntry) error {
	guid, err := cacheGUID()
	if err != nil {
		return err
	}
	token, err := loadToken()
	if err != nil {
		return err
	}
	cc, cli, err := dial(o, token)
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := cli.Commit(ctx, convert.ToProtoCommit(batch, guid))
	if err != nil {
		return rpcErr(err)
	}
	return printOut(cmd.OutOrStdout(), output, viewResults(resp))
}

func newCommitCmd(o *connOpts, output *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a batch of entries from a YAML or JSON file (- for stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := readAll(file)
			if err != nil {
				return err
			}
			batch, err := parseBatch(b)
			if err != nil {
				return err
			}
			return commitBatch(cmd.Context(), *o, *output, cmd, batch)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "batch file")
	return cmd
}

func newBookmarkCmd(o *connOpts, output *string) *cobra.Command {
	var it batchItem
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Create or update a single bookmark or bookmark folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			it.Type = model.Bookmark.String()
			if !it.Folder && !it.Deleted && it.URL == "" {
				return errors.New("need --url (or --folder)")
			}
			p, err := it.proposed()
			if err != nil {
				return err
			}
			return commitBatch(cmd.Context(), *o, *output, cmd, []model.ProposedEntry{p})
		},
	}
	f := cmd.Flags()
	f.StringVar(&it.ID, "id", "", "server id to update (default: new bookmark)")
	f.Int64Var(&it.Version, "version", 0, "current version when updating")
	f.StringVar(&it.Parent, "parent", "", "parent folder id or tag:<server tag> (default: the bookmarks root)")
	f.StringVar(&it.After, "after", "", "sibling id or tag:<server tag> to insert after (default: first)")
	f.StringVar(&it.Name, "title", "", "title")
	f.StringVar(&it.URL, "url", "", "bookmark url")
	f.BoolVar(&it.Folder, "folder", false, "create a folder")
	f.BoolVar(&it.Deleted, "delete", false, "delete the entry")
	return cmd
}
