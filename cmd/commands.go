package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spec-rag/internal/catalog"
	"spec-rag/internal/helper"
	"spec-rag/internal/kb"
	"spec-rag/internal/parser"
)

type indexReport struct {
	Indexed []indexedFile     `json:"indexed"`
	Skipped []string          `json:"skipped,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Chunks  int               `json:"total_chunks"`
}

type indexedFile struct {
	FileID int64  `json:"file_id"`
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
	Spec   bool   `json:"specification"`
}

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var (
		spec    bool
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Parse, chunk and embed files into the project knowledge base",
		Long: `Each file is recorded in the catalog, parsed through the content cache and
indexed under its catalog id. Directories are walked; hidden entries and
unsupported extensions are skipped. A failing file does not stop the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				report, err := a.index(ctx, args, spec, refresh)
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&spec, "spec", false, "treat every file as a specification")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-parse even when cached content is current")
	return cmd
}

func (a *app) index(ctx context.Context, paths []string, spec, refresh bool) (*indexReport, error) {
	base, err := a.knowledgeBase(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	files, err := collectFiles(paths, parser.NewRegistry().SupportedExtensions())
	if err != nil {
		return nil, err
	}

	report := &indexReport{Errors: make(map[string]string)}
	for _, path := range files {
		ok, err := cat.IndexFile(ctx, path, a.project())
		if err != nil {
			report.Errors[path] = err.Error()
			continue
		}
		if !ok {
			report.Skipped = append(report.Skipped, path)
			continue
		}
		file, err := cat.GetFile(ctx, path)
		if err != nil {
			report.Errors[path] = err.Error()
			continue
		}

		content, meta, _ := contents.GetOrParse(ctx, path, refresh)
		if msg, failed := meta["error"]; failed {
			report.Errors[path] = fmt.Sprint(msg)
			continue
		}

		isSpec := spec || file.FileType == catalog.TypeSpecification
		n, err := base.IndexDocument(ctx, content, file.ID, file.Filename, isSpec)
		if err != nil {
			report.Errors[path] = err.Error()
			continue
		}
		log.Info().Str("file", file.Filename).Int64("file_id", file.ID).Int("chunks", n).Msg("Indexed document")
		report.Indexed = append(report.Indexed, indexedFile{FileID: file.ID, Path: file.Path, Chunks: n, Spec: isSpec})
		report.Chunks += n
	}
	return report, nil
}

// collectFiles expands directories into the supported files below them.
// Explicitly named files are kept whatever their extension.
func collectFiles(paths, extensions []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && slices.Contains(extensions, catalog.Extension(path)) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return files, nil
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <file-id>",
		Short: "Delete every chunk of a document from the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q: %w", args[0], err)
			}
			return withApp(flags, func(a *app) error {
				base, err := a.knowledgeBase(cmd.Context())
				if err != nil {
					return err
				}
				n, err := base.RemoveDocument(cmd.Context(), fileID)
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), map[string]any{"file_id": fileID, "removed_chunks": n})
				return nil
			})
		},
	}
}

type searchFlags struct {
	mode         string
	n            int
	minScore     float64
	contextChars int
	keywords     []string
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	sf := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the project knowledge base",
		Long: `Modes:
  single   one similarity search over the joined arguments
  context  like single, flattened and clipped for prompts
  multi    every argument is a separate query; results are merged
  hybrid   semantic score blended with keyword matches`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				results, err := a.search(cmd, sf, args)
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sf.mode, "mode", "context", "single, context, multi or hybrid")
	cmd.Flags().IntVarP(&sf.n, "n", "n", 0, "number of results (0 uses the configured default)")
	cmd.Flags().Float64Var(&sf.minScore, "min-score", -1, "minimum score (negative uses the configured default)")
	cmd.Flags().IntVar(&sf.contextChars, "context-chars", 0, "characters kept per result (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&sf.keywords, "keywords", nil, "hybrid keywords; pass an empty value to disable keyword scoring")
	return cmd
}

func (a *app) search(cmd *cobra.Command, sf *searchFlags, args []string) (any, error) {
	ctx := cmd.Context()
	base, err := a.knowledgeBase(ctx)
	if err != nil {
		return nil, err
	}
	s := a.cfg.Search
	n := orDefault(sf.n, s.NResults)
	contextChars := orDefault(sf.contextChars, s.ContextChars)
	query := strings.Join(args, " ")

	switch sf.mode {
	case "single":
		return base.Search(ctx, query, n, max(sf.minScore, 0))
	case "context":
		return base.SearchWithContext(ctx, query, n, contextChars)
	case "multi":
		opts := kb.MultiQueryOptions{
			ResultsPerQuery: s.ResultsPerQuery,
			MaxTotalResults: orDefault(sf.n, s.MaxTotalResults),
			ContextChars:    contextChars,
			MinScore:        s.MultiQueryMinimum,
		}
		if sf.minScore >= 0 {
			opts.MinScore = sf.minScore
		}
		return base.SearchMultiQuery(ctx, args, opts)
	case "hybrid":
		opts := kb.HybridOptions{
			NResults:       n,
			SemanticWeight: s.SemanticWeight,
			KeywordWeight:  s.KeywordWeight,
			MinScore:       s.HybridMinimum,
		}
		if sf.minScore >= 0 {
			opts.MinScore = sf.minScore
		}
		if cmd.Flags().Changed("keywords") {
			opts.Keywords = nonEmpty(sf.keywords)
		}
		return base.HybridSearch(ctx, query, opts)
	default:
		return nil, fmt.Errorf("unknown search mode %q", sf.mode)
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				base, err := a.knowledgeBase(cmd.Context())
				if err != nil {
					return err
				}
				stats, err := base.Stats(cmd.Context())
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func newClearCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every chunk in the project knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear project %d without --yes", flags.projectID)
			}
			return withApp(flags, func(a *app) error {
				base, err := a.knowledgeBase(cmd.Context())
				if err != nil {
					return err
				}
				if err := base.Clear(cmd.Context()); err != nil {
					return err
				}
				log.Info().Int64("project", flags.projectID).Msg("Cleared knowledge base")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the project collection to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				m, err := a.chromemManager(cmd.Context())
				if err != nil {
					return err
				}
				if err := m.Export(args[0], key, flags.projectID); err != nil {
					return err
				}
				log.Info().Str("file", args[0]).Int64("project", flags.projectID).Msg("Exported collection")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte encryption key")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore the project collection from an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				m, err := a.chromemManager(cmd.Context())
				if err != nil {
					return err
				}
				if err := m.Import(args[0], key, flags.projectID); err != nil {
					return err
				}
				log.Info().Str("file", args[0]).Int64("project", flags.projectID).Msg("Imported collection")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte encryption key")
	return cmd
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// nonEmpty drops blank entries but never returns nil, so an explicit empty
// flag still disables keyword scoring.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
