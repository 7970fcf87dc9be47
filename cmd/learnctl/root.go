package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/report"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "learnctl",
		Short:         "Inspect and edit course progress",
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("db", "", "Path to SQLite progress database (overrides LEARN_LOCAL_SQLITE_PATH)")
	root.PersistentFlags().String("content", "", "Course content directory (overrides LEARN_CONTENT_PATH)")
	root.PersistentFlags().String("learner", "", "Learner ID")

	root.AddCommand(
		newValidateCmd(),
		newStatusCmd(),
		newCompleteCmd(),
		newUncompleteCmd(),
		newResetCmd(),
		newExportCmd(),
		newLearnersCmd(),
	)
	return root
}

// env is an engine over the local SQLite tier.
type env struct {
	engine *engine.Engine
	db     *progress.SQLiteCache
}

func (e *env) Close() error { return e.db.Close() }

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Local.SQLitePath
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		dbPath = p
	}
	contentPath := cfg.Content.Path
	if p, _ := cmd.Flags().GetString("content"); p != "" {
		contentPath = p
	}

	catalog, err := course.NewLoader(contentPath, course.Defaults{
		PassingScore: cfg.Quiz.DefaultPassingScore,
		MaxAttempts:  cfg.Quiz.DefaultMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	db, err := progress.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return &env{
		engine: engine.NewEngine(engine.EngineConfig{
			Catalog: catalog,
			Store:   progress.NewStore(progress.StoreConfig{Cache: db}),
			Policy:  gating.Policy{FreeSequential: cfg.Gating.FreeSequential},
		}),
		db: db,
	}, nil
}

func learnerFlag(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("learner")
	if id == "" {
		return "", fmt.Errorf("--learner is required")
	}
	return id, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate every course document under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			defaults := course.Defaults{PassingScore: cfg.Quiz.DefaultPassingScore, MaxAttempts: cfg.Quiz.DefaultMaxAttempts}

			out := cmd.OutOrStdout()
			var checked, failed int
			err = filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !(strings.HasSuffix(path, ".course.yaml") || strings.HasSuffix(path, ".course.yml")) {
					return nil
				}
				checked++
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				c, err := course.Parse(data, defaults)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					return nil
				}
				fmt.Fprintf(out, "ok   %s (%s: %d modules, %d lessons)\n", path, c.Slug, len(c.Modules), c.TotalLessons())
				return nil
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d course documents invalid", failed, checked)
			}
			fmt.Fprintf(out, "%d course documents valid\n", checked)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <course>",
		Short: "Show a learner's module statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := learnerFlag(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ov, err := e.engine.Overview(cmd.Context(), learner, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s, %d%% (%d/%d lessons)\n", ov.Title, ov.Status, ov.Percentage, ov.CompletedLessons, ov.TotalLessons)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tSTATUS\tLESSONS\tPERCENT")
			for _, m := range ov.Modules {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d%%\n", m.Slug, m.Status, m.CompletedLessons, m.TotalLessons, m.Percentage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if ov.NextLesson != "" {
				fmt.Fprintf(out, "next: %s\n", ov.NextLesson)
			}
			return nil
		},
	}
}

func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <course> <lesson>",
		Short: "Mark a lesson completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := learnerFlag(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.CompleteLesson(cmd.Context(), learner, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed %s/%s for %s\n", args[0], args[1], learner)
			return nil
		},
	}
}

func newUncompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncomplete <course> <lesson>",
		Short: "Remove a lesson completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := learnerFlag(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.UncompleteLesson(cmd.Context(), learner, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uncompleted %s/%s for %s\n", args[0], args[1], learner)
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <course>",
		Short: "Clear a learner's progress in a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := learnerFlag(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.ResetCourse(cmd.Context(), learner, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s for %s\n", args[0], learner)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <course>",
		Short: "Write a learner's progress report as XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := learnerFlag(cmd)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ov, err := e.engine.Overview(cmd.Context(), learner, args[0])
			if err != nil {
				return err
			}
			attempts, err := e.engine.Attempts(cmd.Context(), learner, args[0])
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("out")
			if path == "" {
				path = ov.CourseKey + "-" + learner + ".xlsx"
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := report.Write(f, learner, ov, attempts); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default <course>-<learner>.xlsx)")
	return cmd
}

func newLearnersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learners",
		Short: "List learners with recorded progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ids, err := e.db.Learners(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
