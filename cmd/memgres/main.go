package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/memgres/memgres"
	"github.com/memgres/memgres/internal/cliconfig"
	"github.com/memgres/memgres/pkg/core"
	"github.com/memgres/memgres/pkg/export"
	"github.com/memgres/memgres/pkg/memory"
	"github.com/memgres/memgres/pkg/overflow"
	"github.com/memgres/memgres/pkg/project"
)

var (
	flagDSN     string
	flagProject string
	flagConfig  string
	verbose     bool

	cfg cliconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "memgres",
	Short: "CLI tool for the memgres batch data-access layer",
	Long:  `A command-line interface for bulk-loading, paging, and exporting project-scoped data in PostgreSQL.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = cliconfig.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagProject != "" {
			cfg.Project = flagProject
		}
		if verbose {
			cfg.Verbose = true
		}
		return cfg.Validate()
	},
	SilenceUsage: true,
}

// openDB assembles a DB handle from the effective configuration.
func openDB(ctx context.Context) (*memgres.DB, error) {
	dsn := flagDSN
	if dsn == "" {
		dsn = cfg.DSN()
	}
	db, err := memgres.Open(ctx, memgres.Config{
		DSN:        dsn,
		Project:    cfg.Project,
		Dimensions: cfg.Dimensions,
		Logger:     newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newLogger() core.Logger {
	if !cfg.Verbose {
		return core.NopLogger()
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	return core.NewZerologLogger(zl)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the project schema and memories table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		fmt.Printf("Initialized schema %s for project %s\n", db.Project().Schema, db.Project().Path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-upsert memories from an NDJSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()

		var memories []*memory.Memory
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
		line := 0
		for scanner.Scan() {
			line++
			data := scanner.Bytes()
			if len(data) == 0 {
				continue
			}
			var m memory.Memory
			if err := json.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("line %d: invalid memory: %w", line, err)
			}
			memories = append(memories, &m)
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := core.DefaultBatchOptions()
		opts.BatchSize = cfg.BatchSize
		continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
		opts.ContinueOnError = continueOnError

		result, err := db.Memories().SaveBatch(ctx, memories, &opts)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %d/%d memories in %s (%d failed)\n",
			result.Successful, result.TotalProcessed, result.Duration.Round(time.Millisecond), result.Failed)
		for _, be := range result.Errors {
			fmt.Fprintf(os.Stderr, "  chunk %d: %v\n", be.Chunk, be.Err)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [table]",
	Short: "Stream a table out as ndjson, json, or csv",
	Long: `Stream rows through a server-side cursor and encode them to stdout or a
file. With no table argument the project's memories table is exported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatStr, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		outPath, _ := cmd.Flags().GetString("output")
		fetchSize, _ := cmd.Flags().GetInt("fetch-size")

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := &core.StreamOptions{BatchSize: fetchSize}
		var stream *core.RowStream
		if len(args) == 0 {
			stream, err = db.Memories().ExportAll(ctx, opts)
		} else {
			query := fmt.Sprintf("SELECT * FROM %s", db.Project().Qualify(args[0]))
			stream, err = db.Store().StreamQuery(ctx, query, nil, opts)
		}
		if err != nil {
			return fmt.Errorf("failed to open stream: %w", err)
		}
		defer stream.Close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		rows, err := export.Write(out, stream, format)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if outPath != "" {
			fmt.Printf("Exported %d rows to %s\n", rows, outPath)
		}
		return nil
	},
}

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Show one page of memories with continuation cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		size, _ := cmd.Flags().GetInt("size")
		cursor, _ := cmd.Flags().GetString("cursor")
		desc, _ := cmd.Flags().GetBool("desc")

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		page, err := db.Memories().Page(ctx, memory.PageOptions{
			PageSize:   size,
			Cursor:     cursor,
			Descending: desc,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch page: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the project's embedding overflow queue",
}

// openQueue opens the overflow queue for the configured project.
func openQueue() (*overflow.Queue, error) {
	path := project.QueuePath(cfg.Home, cfg.Project)
	q, err := overflow.Open(path, newLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open queue at %s: %w", path, err)
	}
	return q, nil
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		stats, err := q.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read queue stats: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove finished queue items older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		removed, err := q.CleanupOld(cmd.Context(), olderThan)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d finished items\n", removed)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool counters and the memories row estimate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		count, err := db.Memories().Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to estimate count: %w", err)
		}
		stat := db.Pool().Stat()

		fmt.Printf("Project:          %s\n", db.Project().Path)
		fmt.Printf("Schema:           %s\n", db.Project().Schema)
		fmt.Printf("Memories (est.):  %d\n", count)
		fmt.Printf("Pool connections: %d total, %d idle, %d in use\n",
			stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project path (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: $MEMGRES_HOME/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	importCmd.Flags().Bool("continue-on-error", false, "record failed chunks and keep going")

	exportCmd.Flags().StringP("format", "f", "ndjson", "output format: ndjson, json, or csv")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().Int("fetch-size", core.DefaultStreamBatchSize, "rows per cursor fetch")

	pageCmd.Flags().Int("size", core.DefaultPageSize, "page size")
	pageCmd.Flags().String("cursor", "", "continuation cursor from a previous page")
	pageCmd.Flags().Bool("desc", false, "walk in descending key order")

	queueCleanupCmd.Flags().Duration("older-than", 24*time.Hour, "remove finished items older than this")
	queueCmd.AddCommand(queueStatsCmd, queueCleanupCmd)

	rootCmd.AddCommand(initCmd, importCmd, exportCmd, pageCmd, queueCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
