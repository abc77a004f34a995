package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/store"
)

var (
	recordsStatus string
	recordsLimit  int
	recordsOffset int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect verification records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List verification records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.RecordFilter{Limit: recordsLimit, Offset: recordsOffset}
		if recordsStatus != "" {
			status := model.Status(recordsStatus)
			if !status.Valid() {
				return eris.Errorf("unknown status %q", recordsStatus)
			}
			filter.Status = status
		}

		records, err := st.ListRecords(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCOMPANY\tCITY\tUPDATED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.ID, rec.Status, rec.Intake.CompanyName, rec.Intake.City,
				rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a verification record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal record")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	recordsListCmd.Flags().StringVar(&recordsStatus, "status", "", "filter by pipeline status")
	recordsListCmd.Flags().IntVar(&recordsLimit, "limit", 50, "maximum records to list")
	recordsListCmd.Flags().IntVar(&recordsOffset, "offset", 0, "records to skip")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}
