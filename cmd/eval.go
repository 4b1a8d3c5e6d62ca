// -- cmd/eval.go --
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anton-kulagin/chromy/pkg/chromy"
)

var (
	evalURL      string
	evalSelector string
)

var evalCmd = &cobra.Command{
	Use:   "eval EXPRESSION",
	Short: "Evaluate an expression in the page context and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *chromy.Client) error {
			if evalURL != "" {
				if err := c.Goto(ctx, evalURL); err != nil {
					return err
				}
			}
			if evalSelector != "" {
				if err := c.WaitSelector(ctx, evalSelector); err != nil {
					return err
				}
			}

			result, err := c.Evaluate(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("failed to print result: %w", err)
			}
			return nil
		})
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalURL, "url", "", "navigate here before evaluating")
	evalCmd.Flags().StringVar(&evalSelector, "wait-selector", "", "wait for this selector before evaluating")
	rootCmd.AddCommand(evalCmd)
}
