package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/doctor"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/logging"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the workspace, tools and leftover state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, paths, err := root.load()
			if err != nil {
				return err
			}
			results := doctor.New(paths, cfg).RunAll(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				output := logging.NewOutputFormatter(cmd.OutOrStdout())
				for _, r := range results {
					line := fmt.Sprintf("%s: %s", r.Name, r.Message)
					if r.Fix != "" {
						line += fmt.Sprintf(" [fix: %s]", r.Fix)
					}
					switch r.Status {
					case doctor.StatusOK:
						output.Success(line)
					case doctor.StatusWarning:
						output.Warning(line)
					default:
						output.Error(line)
					}
				}
			}

			if doctor.HasErrors(results) {
				return pserrors.NewValidationError("doctor found problems")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}
