package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Send one chat turn to the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = "cli-" + uuid.NewString()
			}
			api, err := apiClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Chat(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, resp.Response)
			if resp.Phase != "" && resp.Phase != "conversational" {
				_, _ = fmt.Fprintf(out, "[%s, session %s]\n", resp.Phase, sessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: fresh cli-<uuid>)")
	return cmd
}
