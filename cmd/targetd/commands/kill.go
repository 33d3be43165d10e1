package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/protocol"
)

func newKillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill [ids...]",
		Short: "Request a kill for one or more targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := json.Marshal(protocol.KillTargetsParams{IDs: args})
			if err != nil {
				return fmt.Errorf("encode kill request: %w", err)
			}
			down, err := call(cmd.Context(), protocol.UpMessage{Type: protocol.UpKillTargets, Params: params})
			if err != nil {
				return err
			}
			if down.Type != protocol.DownOk {
				return fmt.Errorf("unexpected response type %q", down.Type)
			}
			fmt.Printf("kill requested for %d target(s)\n", len(args))
			return nil
		},
	}
	registerClientFlags(cmd)
	return cmd
}
