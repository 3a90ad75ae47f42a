package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/stockledger/internal/model"
)

var (
	rowsFactory   int
	rowsWarehouse string
	rowsDocType   string
)

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "Print the active ledger rows for a triple",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("rows"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		triple := model.Triple{Factory: rowsFactory, Warehouse: rowsWarehouse, DocType: rowsDocType}
		rows, err := st.Rows(ctx, triple)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINVENTORY\tBATCH\tNAME\tBACKED\tIGNORED\tEXCESS")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%v\t%v\n",
				r.ID, r.InventoryCode, r.BatchCode, r.Name, r.Backed, r.Ignored, r.Excess)
		}
		return w.Flush()
	},
}

func init() {
	rowsCmd.Flags().IntVar(&rowsFactory, "factory", 0, "factory code")
	rowsCmd.Flags().StringVar(&rowsWarehouse, "warehouse", "", "warehouse code")
	rowsCmd.Flags().StringVar(&rowsDocType, "doctype", "", "document type")
	_ = rowsCmd.MarkFlagRequired("warehouse")
	_ = rowsCmd.MarkFlagRequired("doctype")
	rootCmd.AddCommand(rowsCmd)
}
