package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/protocol"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the server's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			down, err := call(cmd.Context(), protocol.UpMessage{Type: protocol.UpGetServerStatus})
			if err != nil {
				return err
			}
			var status protocol.ServerStatusResult
			if err := json.Unmarshal(down.Params, &status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return printJSON(status)
		},
	}
	registerClientFlags(cmd)
	return cmd
}
