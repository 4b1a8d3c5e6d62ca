// -- cmd/capture.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anton-kulagin/chromy/pkg/chromy"
)

var (
	captureURL      string
	captureOut      string
	captureSelector string
	captureDevice   string
)

// devicePresets maps the --device flag to emulation presets.
var devicePresets = map[string]chromy.Device{
	"desktop":   chromy.DeviceDesktop,
	"iphone-se": chromy.DeviceIPhoneSE,
	"pixel-7":   chromy.DevicePixel7,
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Navigate to a URL and capture a screenshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return capture(cmd.Context(), "chromy.png", func(ctx context.Context, c *chromy.Client) ([]byte, error) {
			return c.Screenshot(ctx)
		})
	},
}

var pdfCmd = &cobra.Command{
	Use:   "pdf",
	Short: "Navigate to a URL and print the page to PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		return capture(cmd.Context(), "chromy.pdf", func(ctx context.Context, c *chromy.Client) ([]byte, error) {
			return c.PDF(ctx)
		})
	},
}

func capture(ctx context.Context, defaultOut string, take func(ctx context.Context, c *chromy.Client) ([]byte, error)) error {
	out := captureOut
	if out == "" {
		out = defaultOut
	}

	return withClient(ctx, func(ctx context.Context, c *chromy.Client) error {
		if captureDevice != "" {
			device, ok := devicePresets[captureDevice]
			if !ok {
				return fmt.Errorf("unknown device preset %q", captureDevice)
			}
			if err := c.Emulate(ctx, device); err != nil {
				return err
			}
		}

		if err := c.Goto(ctx, captureURL); err != nil {
			return err
		}
		if captureSelector != "" {
			if err := c.WaitSelector(ctx, captureSelector); err != nil {
				return err
			}
		}

		data, err := take(ctx, c)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		return nil
	})
}

func init() {
	for _, cmd := range []*cobra.Command{screenshotCmd, pdfCmd} {
		cmd.Flags().StringVar(&captureURL, "url", "", "page to capture")
		cmd.Flags().StringVar(&captureOut, "out", "", "output file")
		cmd.Flags().StringVar(&captureSelector, "wait-selector", "", "wait for this selector before capturing")
		cmd.Flags().StringVar(&captureDevice, "device", "", "device preset: desktop, iphone-se, pixel-7")
		_ = cmd.MarkFlagRequired("url")
	}
	rootCmd.AddCommand(screenshotCmd, pdfCmd)
}
