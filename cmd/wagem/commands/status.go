package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gliderlab/wagem/gateway/channels/whatsapp"
)

var statusTimeout time.Duration

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the WhatsApp session state and pairing code",
		Long: `Ask the WhatsApp bridge for the session state.
When the session still needs to be linked, the raw pairing string is printed;
render it as a QR code and scan it from WhatsApp > Linked devices.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
	cmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "bridge request timeout")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ch := whatsapp.NewWhatsAppChannel(whatsapp.Config{
		BaseURL:     cfg.BridgeURL,
		Session:     cfg.BridgeSession,
		APIKey:      cfg.BridgeAPIKey,
		HTTPTimeout: statusTimeout,
	}, nil)

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	info, err := ch.SessionStatus(ctx)
	if err != nil {
		return fmt.Errorf("query bridge at %s: %w", cfg.BridgeURL, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bridge:  %s\n", cfg.BridgeURL)
	fmt.Fprintf(out, "Session: %s\n", info.Name)
	fmt.Fprintf(out, "Status:  %s\n", info.Status)
	if info.Me != nil {
		fmt.Fprintf(out, "Account: %s (%s)\n", info.Me.ID, info.Me.PushName)
	}

	if info.Status != whatsapp.StatusScanQR {
		return nil
	}
	code, err := ch.PairingCode(ctx)
	if err != nil {
		return fmt.Errorf("fetch pairing code: %w", err)
	}
	fmt.Fprintln(out, "Pairing code (render as QR and scan from Linked devices):")
	fmt.Fprintln(out, code)
	return nil
}
