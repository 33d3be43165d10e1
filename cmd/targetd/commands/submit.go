package commands

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/protocol"
	"github.com/openfroyo/targetd/pkg/target"
)

func newSubmitCommand() *cobra.Command {
	var (
		name    string
		host    string
		program string
		tags    []string
		deps    []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a single direct_command target",
		Long: `Submit a single direct_command target for quick manual runs.
For DAGs of many targets, POST a submit_targets request directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if program == "" {
				return fmt.Errorf("--program is required")
			}
			t := target.NewPassive(uuid.NewString(), target.BuildProcess{
				Kind:    target.BuildDirectCommand,
				Host:    host,
				Program: program,
			})
			t.Name = name
			t.Tags = tags
			t.Dependencies = deps
			t.Active = true

			params, err := json.Marshal(protocol.SubmitTargetsParams{Targets: []*target.Target{t}})
			if err != nil {
				return fmt.Errorf("encode submit request: %w", err)
			}

			down, err := call(cmd.Context(), protocol.UpMessage{Type: protocol.UpSubmitTargets, Params: params})
			if err != nil {
				return err
			}
			var res protocol.SubmitTargetsResult
			if err := json.Unmarshal(down.Params, &res); err != nil {
				return fmt.Errorf("decode submit result: %w", err)
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target name")
	cmd.Flags().StringVar(&host, "host", "", "host to run the command on (empty or localhost for local execution)")
	cmd.Flags().StringVar(&program, "program", "", "command line to run")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag, may be repeated")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "dependency target id, may be repeated")
	registerClientFlags(cmd)
	return cmd
}
