package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pardot/oidc-compliance/discovery"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Fetch and check a provider's discovery document and keys",
	Args:  cobra.NoArgs,
	RunE:  discover,
}

var discoverIssuer string

func init() {
	discoverCmd.Flags().StringVar(&discoverIssuer, "issuer", "http://localhost:5556", "Issuer URL to discover")
}

func discover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := discovery.NewClient(ctx, discoverIssuer)
	if err != nil {
		return errors.Wrapf(err, "Error discovering %s", discoverIssuer)
	}

	keys, err := client.GetPublicKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "Error fetching keys")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(client.Metadata()); err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "key %s (%s)\n", k.KeyID, k.Algorithm)
	}
	return nil
}
