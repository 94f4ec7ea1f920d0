package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/agentcore/internal/app"
	"github.com/spf13/cobra"
)

var invokePayload string

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Handle a single invocation and print the response",
	Long: `Handle one invocation payload without starting the HTTP server.
The response envelope is printed as JSON and pending usage records are
flushed before the command exits.`,
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVar(&invokePayload, "payload", "{}", "request payload as a JSON object")
	rootCmd.AddCommand(invokeCmd)
}

func runInvoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	a, err := app.New(cfg, log.Logger, appOptions...)
	if err != nil {
		return err
	}

	resp, invokeErr := a.Invoke(commandContext(cmd), []byte(invokePayload))

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush usage records")
	}

	if invokeErr != nil {
		return invokeErr
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
