package cli

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keyOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a validator key and print its address",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		encoded := hex.EncodeToString(crypto.FromECDSA(key))
		if keyOut != "" {
			if err := os.WriteFile(keyOut, []byte(encoded), 0600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
		}
		fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keyOut, "out", "", "write the key to this file instead of stdout")
	rootCmd.AddCommand(keygenCmd)
}
