package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spec-rag/internal/catalog"
	"spec-rag/internal/helper"
	"spec-rag/internal/parser"
	"spec-rag/internal/rag"
	"spec-rag/internal/watch"
)

const dateLayout = "2006-01-02"

func newCatalogCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain the file metadata index",
	}
	cmd.AddCommand(
		newCatalogScanCmd(flags),
		newCatalogSearchCmd(flags),
		newCatalogPruneCmd(flags),
		&cobra.Command{
			Use:   "stats",
			Short: "Count catalog entries by type and extension",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCatalog(flags, cmd, func(cat *catalog.Catalog) (any, error) {
					return cat.Stats(cmd.Context())
				})
			},
		},
		newCatalogHistoryCmd(flags),
	)
	return cmd
}

// withCatalog opens the catalog, runs fn and prints what it returns.
func withCatalog(flags *globalFlags, cmd *cobra.Command, fn func(cat *catalog.Catalog) (any, error)) error {
	return withApp(flags, func(a *app) error {
		cat, err := a.openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		out, err := fn(cat)
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), out)
		return nil
	})
}

func newCatalogScanCmd(flags *globalFlags) *cobra.Command {
	var (
		all      bool
		untagged bool
	)
	cmd := &cobra.Command{
		Use:   "scan <dir>...",
		Short: "Record every visible file below the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				cat, err := a.openCatalog(cmd.Context())
				if err != nil {
					return err
				}
				opts := catalog.ScanOptions{}
				if !untagged {
					opts.Project = a.project()
				}
				if !all {
					opts.AllowedExtensions = parser.NewRegistry().SupportedExtensions()
				}
				results := make(map[string]catalog.ScanStats, len(args))
				for _, root := range args {
					stats, err := cat.ScanDirectory(cmd.Context(), root, opts)
					if err != nil {
						return err
					}
					results[root] = stats
				}
				helper.PrettyPrint(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "record every extension, not only parseable ones")
	cmd.Flags().BoolVar(&untagged, "untagged", false, "do not tag files with the project")
	return cmd
}

func newCatalogSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		types       []string
		extensions  []string
		onlyProject bool
		after       string
		before      string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "search [pattern]",
		Short: "Find catalog entries by name, type, extension or date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := catalog.Query{FileTypes: types, Extensions: extensions, Limit: limit}
			if len(args) == 1 {
				q.Pattern = args[0]
			}
			if onlyProject {
				q.ProjectID = &flags.projectID
			}
			var err error
			if q.ModifiedAfter, err = parseDate(after); err != nil {
				return err
			}
			if q.ModifiedBefore, err = parseDate(before); err != nil {
				return err
			}
			return withCatalog(flags, cmd, func(cat *catalog.Catalog) (any, error) {
				return cat.Search(cmd.Context(), q)
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "file types, e.g. specification,rfi")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "extensions without the dot")
	cmd.Flags().BoolVar(&onlyProject, "in-project", false, "only files tagged with --project")
	cmd.Flags().StringVar(&after, "after", "", "modified after this date ("+dateLayout+")")
	cmd.Flags().StringVar(&before, "before", "", "modified before this date ("+dateLayout+")")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries")
	return cmd
}

func newCatalogPruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop entries whose files no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(flags, cmd, func(cat *catalog.Catalog) (any, error) {
				n, err := cat.RemoveMissing(cmd.Context())
				return map[string]int{"removed": n}, err
			})
		},
	}
}

func newCatalogHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent directory scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(flags, cmd, func(cat *catalog.Catalog) (any, error) {
				return cat.ScanHistory(cmd.Context(), limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum scans")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the parsed content cache",
	}

	var refresh bool
	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Print a file's extracted text, parsing it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				c, err := a.openCache(cmd.Context())
				if err != nil {
					return err
				}
				content, meta, hit := c.GetOrParse(cmd.Context(), args[0], refresh)
				helper.PrettyPrint(cmd.OutOrStdout(), map[string]any{
					"path":     args[0],
					"cached":   hit,
					"metadata": meta,
					"content":  content,
				})
				return nil
			})
		},
	}
	get.Flags().BoolVar(&refresh, "refresh", false, "re-parse even when the cached copy is current")

	cmd.AddCommand(
		get,
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache counters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(flags, func(a *app) error {
					c, err := a.openCache(cmd.Context())
					if err != nil {
						return err
					}
					helper.PrettyPrint(cmd.OutOrStdout(), c.Stats())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(flags, func(a *app) error {
					c, err := a.openCache(cmd.Context())
					if err != nil {
						return err
					}
					return c.Clear(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "warm <path>...",
			Short: "Parse files ahead of use",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(flags, func(a *app) error {
					c, err := a.openCache(cmd.Context())
					if err != nil {
						return err
					}
					files, err := collectFiles(args, parser.NewRegistry().SupportedExtensions())
					if err != nil {
						return err
					}
					n := c.Warm(cmd.Context(), files)
					helper.PrettyPrint(cmd.OutOrStdout(), map[string]int{"requested": len(files), "parsed": n})
					return nil
				})
			},
		},
	)
	return cmd
}

func newRespondCmd(flags *globalFlags) *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "respond <path>",
		Short: "Draft a response to an RFI or submittal from the project specifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				base, err := a.knowledgeBase(ctx)
				if err != nil {
					return err
				}
				c, err := a.openCache(ctx)
				if err != nil {
					return err
				}
				client, err := a.generator()
				if err != nil {
					return err
				}

				content, meta, _ := c.GetOrParse(ctx, args[0], false)
				if msg, failed := meta["error"]; failed {
					return fmt.Errorf("failed to read %s: %v", args[0], msg)
				}
				resp, err := rag.NewResponder(base, client, rag.DefaultOptions()).Respond(ctx, docType, content, args[0])
				if err != nil {
					return err
				}
				log.Info().Str("model", client.Model()).Int("sources", len(resp.Context)).Msg("Drafted response")
				helper.PrettyPrint(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "RFI", "document kind named in the prompt")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Keep the catalog and content cache in step with directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				cat, err := a.openCatalog(ctx)
				if err != nil {
					return err
				}
				c, err := a.openCache(ctx)
				if err != nil {
					return err
				}
				w, err := watch.New(c, cat, watch.Options{Project: a.project(), Debounce: debounce})
				if err != nil {
					return err
				}
				defer w.Close()
				for _, root := range args {
					if err := w.Add(root); err != nil {
						return err
					}
				}
				log.Info().Strs("roots", args).Msg("Watching for changes, press Ctrl+C to stop")
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a change is applied")
	return cmd
}
