package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/stage"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <stage> <record-id>",
	Short: "Run an enrichment stage for a record and wait for it",
	Long:  "Re-runs the osint or financial stage. A stage whose result is already merged exits cleanly without changing the record. The financial stage re-reads the record's stored documents.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, recordID := args[0], args[1]
		if name != stage.NameOSINT && name != stage.NameFinancial {
			return eris.Errorf("unknown stage %q, want %s or %s", name, stage.NameOSINT, stage.NameFinancial)
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Store.GetRecord(cmd.Context(), recordID)
		if err != nil {
			return err
		}

		req := stage.Request{RecordID: rec.ID}
		if name == stage.NameOSINT {
			req.CompanyName = rec.Intake.CompanyName
			req.City = rec.Intake.City
		}

		if err := env.Dispatch.Dispatch(name, req); err != nil {
			return err
		}
		env.Dispatch.Wait()

		if dead := env.Dispatch.DeadLetters(); len(dead) > 0 {
			return eris.Errorf("stage %s failed after %d attempts: %s",
				dead[0].Stage, dead[0].Attempts, dead[0].Error)
		}

		updated, err := env.Store.GetRecord(cmd.Context(), recordID)
		if err != nil {
			return err
		}
		zap.L().Info("stage run complete",
			zap.String("stage", name),
			zap.String("record_id", recordID),
			zap.String("status", string(updated.Status)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}
