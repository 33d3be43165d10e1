package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/protocol"
)

func newListCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all target ids known to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			params, err := json.Marshal(protocol.GetTargetIDsParams{
				Query: protocol.TargetQuery{
					TimeConstraint: protocol.TimeConstraint{Kind: protocol.TimeConstraintAll},
					Filter:         protocol.Filter{Kind: protocol.FilterTrue},
				},
			})
			if err != nil {
				return fmt.Errorf("encode query: %w", err)
			}

			down, err := call(ctx, protocol.UpMessage{Type: protocol.UpGetTargetIDs, Params: params})
			if err != nil {
				return err
			}

			var ids []string
			switch down.Type {
			case protocol.DownListOfTargetIDs:
				var res protocol.ListOfTargetIDsResult
				if err := json.Unmarshal(down.Params, &res); err != nil {
					return fmt.Errorf("decode id list: %w", err)
				}
				ids = res.IDs
			case protocol.DownDeferredListOfTargetIDs:
				var res protocol.DeferredListOfTargetIDsResult
				if err := json.Unmarshal(down.Params, &res); err != nil {
					return fmt.Errorf("decode deferred list: %w", err)
				}
				return fmt.Errorf("result set of %d ids was deferred to token %q; page through it with a smaller query or a future 'get-deferred' subcommand", res.Total, res.Token)
			default:
				return fmt.Errorf("unexpected response type %q", down.Type)
			}

			if raw {
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			}

			summaryParams, err := json.Marshal(protocol.GetTargetsParams{IDs: ids})
			if err != nil {
				return fmt.Errorf("encode summary request: %w", err)
			}
			summaryDown, err := call(ctx, protocol.UpMessage{Type: protocol.UpGetTargetSummaries, Params: summaryParams})
			if err != nil {
				return err
			}
			var summaries protocol.ListOfTargetSummariesResult
			if err := json.Unmarshal(summaryDown.Params, &summaries); err != nil {
				return fmt.Errorf("decode summaries: %w", err)
			}
			return printJSON(summaries.Summaries)
		},
	}
	cmd.Flags().BoolVar(&raw, "ids-only", false, "print bare ids, one per line, instead of full summaries")
	registerClientFlags(cmd)
	return cmd
}
