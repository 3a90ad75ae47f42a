package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sells-group/stockledger/internal/config"
	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/source"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the drop folder and ingest new stock sheets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("watch"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := buildSource(cfg.Source)
		if err != nil {
			return err
		}

		cls := source.NewRuleClassifier(cfg.Source.Rules, cfg.Source.InventoryCountKw)
		svc := ledger.NewService(st, nil)
		watcher := source.NewWatcher(src, cls, svc, rate.Every(cfg.Source.PollInterval))

		return watcher.Run(ctx)
	},
}

func buildSource(cfg config.SourceConfig) (source.Source, error) {
	switch cfg.Mode {
	case "dir":
		return source.NewDirSource(cfg.Dir), nil
	case "ftp":
		return source.NewFTPSource(source.FTPOptions{
			Addr:     cfg.FTPAddr,
			User:     cfg.FTPUser,
			Password: cfg.FTPPassword,
			Dir:      cfg.FTPDir,
		}), nil
	default:
		return nil, eris.Errorf("unknown source mode %q", cfg.Mode)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
