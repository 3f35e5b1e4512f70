package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/app"
	"github.com/ykvlv/companion-bot/internal/config"
	"github.com/ykvlv/companion-bot/internal/logger"
)

var (
	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "companion-bot",
	Short: "Telegram companion: reminders, todo digests, sleep checks and random chats",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if log, err = logger.New(cfg.LogLevel); err != nil {
			return fmt.Errorf("logger init error: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Sync fails on some terminals.
		_ = log.Sync()
	},
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot and its scheduler",
	RunE:  runBot,
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Delete duplicate reminders from the store",
	Long: `Delete reminders whose owner, date, time, message and repeat flag match an
older reminder. The oldest copy is kept.

A running bot keeps the removed rows in memory until its next reload. It does not
write a removed repeating reminder back when it fires, but it may still deliver it
once before the reload.`,
	RunE: runDedupe,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the stored random-chat plan",
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(runCmd, dedupeCmd, planCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("app init failed", zap.Error(err))
		return err
	}
	if err := application.Run(cmd.Context()); err != nil {
		log.Error("app run failed", zap.Error(err))
		return err
	}
	return nil
}

func runDedupe(cmd *cobra.Command, args []string) error {
	n, err := app.Dedupe(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate reminder(s)\n", n)
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	markers, err := app.Plan(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(markers) == 0 {
		fmt.Fprintln(out, "no plan markers")
		return nil
	}
	for _, m := range markers {
		fmt.Fprintf(out, "%s\t%s\n", m.PlanID, m.RunTime.Format(time.RFC3339))
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
