package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go_relay/internal/config"
	"go_relay/internal/mongo"
	"go_relay/internal/relay/importer"
	"go_relay/internal/relay/repository"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dryRun bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "转发任务管理",
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "从 YAML 文件导入转发任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		tasks, err := importer.Parse(f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if dryRun {
			for _, task := range tasks {
				fmt.Fprintf(out, "%s %s [%s] owner=%d sources=%d targets=%d\n",
					color.CyanString("•"), task.Name, task.NormalizedMode(), task.OwnerID,
					len(task.Sources), len(task.Targets))
			}
			fmt.Fprintln(out, color.YellowString("dry run: %d task(s) validated, nothing written", len(tasks)))
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required")
		}
		client, err := mongo.InitFromConfig(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		defer client.Close(context.Background())

		repo := repository.NewMongoTaskRepository(client.Database())
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		n, err := importer.Import(ctx, repo, tasks)
		fmt.Fprintln(out, color.GreenString("imported %d/%d task(s)", n, len(tasks)))
		return err
	},
}

func init() {
	tasksImportCmd.Flags().BoolVar(&dryRun, "dry-run", false, "只校验文件，不写入数据库")
	tasksCmd.AddCommand(tasksImportCmd)
	rootCmd.AddCommand(tasksCmd)
}
