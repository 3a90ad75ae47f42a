package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/model"
)

var (
	reconcileFactory   int
	reconcileWarehouse string
	reconcileDocType   string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute reconciliation for a triple",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		triple := model.Triple{Factory: reconcileFactory, Warehouse: reconcileWarehouse, DocType: reconcileDocType}
		svc := ledger.NewService(st, nil)
		if err := svc.Reconcile(ctx, triple); err != nil {
			return err
		}

		fmt.Printf("reconciled %s\n", triple)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileFactory, "factory", 0, "factory code")
	reconcileCmd.Flags().StringVar(&reconcileWarehouse, "warehouse", "", "warehouse code")
	reconcileCmd.Flags().StringVar(&reconcileDocType, "doctype", "", "document type")
	_ = reconcileCmd.MarkFlagRequired("warehouse")
	_ = reconcileCmd.MarkFlagRequired("doctype")
	rootCmd.AddCommand(reconcileCmd)
}
