package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/model"
)

var (
	ingestFactory   int
	ingestWarehouse string
	ingestDocType   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.xlsx>",
	Short: "Ingest one stock sheet from disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		payload, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		f, err := model.NewIncomingFile(
			filepath.Base(args[0]), "cli", "",
			payload, ingestFactory, ingestWarehouse, ingestDocType, false,
		)
		if err != nil {
			return err
		}

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		svc := ledger.NewService(st, nil)
		res, err := svc.IngestFile(ctx, f)
		if err != nil {
			return err
		}
		if res.Rejected != "" {
			return fmt.Errorf("file rejected: %s", res.Rejected)
		}

		fmt.Printf("ingested %d rows for %s\n", res.InsertedRows, f.TripleKey())
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestFactory, "factory", 0, "factory code")
	ingestCmd.Flags().StringVar(&ingestWarehouse, "warehouse", "", "warehouse code")
	ingestCmd.Flags().StringVar(&ingestDocType, "doctype", "", "document type")
	_ = ingestCmd.MarkFlagRequired("warehouse")
	_ = ingestCmd.MarkFlagRequired("doctype")
	rootCmd.AddCommand(ingestCmd)
}
