package main

import (
	"fmt"

	"github.com/danmuck/msnctl/internal/protocol/challenge"
	"github.com/spf13/cobra"
)

func NewChallengeCommand() *cobra.Command {
	var productID string
	var productKey string

	cmd := &cobra.Command{
		Use:   "challenge <nonce>",
		Short: "Print the QRY response for a CHL nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), challenge.RespondWith(args[0], productID, productKey))
			return err
		},
	}

	cmd.Flags().StringVar(&productID, "product-id", challenge.ProductID, "Client product id")
	cmd.Flags().StringVar(&productKey, "product-key", challenge.ProductKey, "Client product key")

	return cmd
}
