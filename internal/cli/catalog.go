package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tradepost/internal/app"
	"tradepost/internal/core"
	"tradepost/pkg/domain"
)

// catalogArg resolves and initializes the catalog named id.
func catalogArg(ctx context.Context, a *app.App, id string) (core.Manager, error) {
	m, err := a.Catalog(id)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "catalog "+id, fmt.Errorf("%w (known: %s)", err, strings.Join(a.Registry.IDs(), ", ")))
	}
	if err := m.Initialize(ctx); err != nil {
		return nil, WrapExitError(exitCodeFor(err), "initialize "+id, err)
	}
	return m, nil
}

func exitCodeFor(err error) int {
	var notFound domain.ErrNotFound
	switch {
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrInvalidUser), errors.As(err, &notFound):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

type dumpResult core.DumpReport

func (r dumpResult) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "catalog   %s\n", r.Catalog)
	fmt.Fprintf(&b, "state     %s\n", r.State)
	fmt.Fprintf(&b, "driver    %s\n", r.Driver)
	fmt.Fprintf(&b, "degraded  %t\n", r.Degraded)

	fmt.Fprintf(&b, "\nactive (%d)\n", len(r.Active))
	for _, e := range r.Active {
		fmt.Fprintf(&b, "  %s\n    user     %s\n    derived  %s\n", e.Key, compactJSON(e.User), compactJSON(e.Derived))
	}
	fmt.Fprintf(&b, "\nfiltered (%d)\n", len(r.Filtered))
	for _, e := range r.Filtered {
		fmt.Fprintf(&b, "  %s  %s\n    user     %s\n", e.Key, e.Reason, compactJSON(e.User))
	}
	fmt.Fprintf(&b, "\nskipped (%d)\n", len(r.Skipped))
	keys := make([]string, 0, len(r.Skipped))
	for k := range r.Skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s  %s\n", k, r.Skipped[k])
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <catalog>",
		Short: "Show active and filtered entries with reasons",
		Long: `Initialize a catalog and print a diagnostic listing: every active entry
with its user and derived fields, every stored entry excluded from the active
set with the reason, and every source descriptor that never became an entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := catalogArg(ctx, a, args[0])
				if err != nil {
					return err
				}
				return opts.formatter(cmd).Success(dumpResult(m.Dump()))
			})
		},
	}
}

type listEntry struct {
	Key  string `json:"key"`
	User any    `json:"user"`
}

type listResult struct {
	Catalog string      `json:"catalog"`
	Entries []listEntry `json:"entries"`
}

func (r listResult) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d active\n", r.Catalog, len(r.Entries))
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  %s  %s\n", e.Key, compactJSON(e.User))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <catalog>",
		Short: "List active entries with their user fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := catalogArg(ctx, a, args[0])
				if err != nil {
					return err
				}
				dump := m.Dump()
				out := listResult{Catalog: dump.Catalog, Entries: make([]listEntry, 0, len(dump.Active))}
				for _, e := range dump.Active {
					out.Entries = append(out.Entries, listEntry{Key: e.Key, User: e.User})
				}
				return opts.formatter(cmd).Success(out)
			})
		},
	}
}

type reloadLine struct {
	Catalog   string `json:"catalog"`
	Active    int    `json:"active"`
	Created   int    `json:"created"`
	Refreshed int    `json:"refreshed"`
	Retired   int    `json:"retired"`
	Degraded  bool   `json:"degraded,omitempty"`
	Error     string `json:"error,omitempty"`
}

type reloadResult []reloadLine

func (r reloadResult) RenderText(w io.Writer) error {
	var b strings.Builder
	for _, l := range r {
		if l.Error != "" {
			fmt.Fprintf(&b, "%s: error: %s\n", l.Catalog, l.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: %d active (created %d, refreshed %d, retired %d)", l.Catalog, l.Active, l.Created, l.Refreshed, l.Retired)
		if l.Degraded {
			b.WriteString(" [degraded]")
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// NewReloadCommand creates the reload command.
func NewReloadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <catalog|all>",
		Short: "Reconcile catalogs against the current source",
		Long: `Re-read each catalog's document, picking up offline edits, and reconcile it
against the current source files. Use "all" to reload every catalog; failures
of one catalog do not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ids := []string{args[0]}
				if args[0] == "all" {
					ids = a.Registry.IDs()
				}
				var (
					out  reloadResult
					errs []error
				)
				for _, id := range ids {
					m, err := catalogArg(ctx, a, id)
					if err == nil {
						err = m.Reload(ctx)
					}
					line := reloadLine{Catalog: id}
					if err != nil {
						line.Error = err.Error()
						errs = append(errs, err)
					} else {
						d := m.Dump()
						line.Active = len(d.Active)
						line.Created = len(d.Report.Created)
						line.Refreshed = len(d.Report.Refreshed)
						line.Retired = len(d.Report.Retired)
						line.Degraded = d.Degraded
					}
					out = append(out, line)
				}
				if err := opts.formatter(cmd).Success(out); err != nil {
					return err
				}
				if len(errs) > 0 {
					return WrapExitError(ExitFailure, "reload", errors.Join(errs...))
				}
				return nil
			})
		},
	}
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rebuild <catalog>",
		Short: "Discard every setting of a catalog and recreate it from defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "rebuild discards every user setting of "+args[0]+"; pass --yes to confirm")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Catalog(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "catalog "+args[0], err)
				}
				if err := m.Rebuild(ctx); err != nil {
					return WrapExitError(exitCodeFor(err), "rebuild "+args[0], err)
				}
				d := m.Dump()
				return opts.formatter(cmd).Success(reloadResult{{
					Catalog: d.Catalog,
					Active:  len(d.Active),
					Created: len(d.Report.Created),
				}})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding user settings")
	return cmd
}

type setResult struct {
	Catalog string `json:"catalog"`
	Key     string `json:"key"`
	User    any    `json:"user"`
}

func (r setResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "updated %s/%s  %s\n", r.Catalog, r.Key, compactJSON(r.User))
	return err
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <catalog> <key> <json-patch>",
		Short: "Edit the user fields of one entry",
		Long: `Merge a JSON object onto one entry's user fields and save the catalog.

Examples:
  tradepost set items Steel '{"price": 12}'
  tradepost set incidents RaidEnemy '{"enabled": true, "karmaOverride": "bad"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := catalogArg(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := m.Update(args[1], []byte(args[2])); err != nil {
					return WrapExitError(exitCodeFor(err), "set "+args[0]+"/"+args[1], err)
				}
				out := setResult{Catalog: args[0], Key: args[1]}
				d := m.Dump()
				for _, e := range append(d.Active, d.Filtered...) {
					if e.Key == args[1] {
						out.User = e.User
					}
				}
				return opts.formatter(cmd).Success(out)
			})
		},
	}
}

type backupsResult struct {
	Catalog string                `json:"catalog"`
	Backups []domain.DocumentInfo `json:"backups"`
}

func (r backupsResult) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d backups\n", r.Catalog, len(r.Backups))
	for _, info := range r.Backups {
		fmt.Fprintf(&b, "  %s  %d bytes\n", info.Name, info.Size)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups <catalog>",
		Short: "List corruption backups of a catalog document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Catalog(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "catalog "+args[0], err)
				}
				infos, err := m.Backups(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "list backups", err)
				}
				if infos == nil {
					infos = []domain.DocumentInfo{}
				}
				return opts.formatter(cmd).Success(backupsResult{Catalog: args[0], Backups: infos})
			})
		},
	}
}
