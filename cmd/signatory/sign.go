package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/glinharesb/signatory-go/internal/keyring"
)

// messageFlags selects where the message to sign or verify comes from.
type messageFlags struct {
	message string
	in      string
}

func (m *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.message, "message", "", "message text")
	cmd.Flags().StringVar(&m.in, "in", "", "read the message from this file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("message", "in")
}

// read returns --message, the --in file, or stdin, in that order.
func (m *messageFlags) read(cmd *cobra.Command) ([]byte, error) {
	switch {
	case cmd.Flags().Changed("message"):
		return []byte(m.message), nil
	case m.in != "" && m.in != "-":
		return os.ReadFile(m.in)
	default:
		return io.ReadAll(cmd.InOrStdin())
	}
}

func addSignCommands(root *cobra.Command, a *app) {
	root.AddCommand(newSignCmd(a), newVerifyCmd())
}

func newSignCmd(a *app) *cobra.Command {
	var msg messageFlags
	var format, passwordEnv string
	cmd := &cobra.Command{
		Use:   "sign LABEL",
		Short: "Sign a message with a stored key and print the hex signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			doc, err := a.loadKey(args[0], passwordEnv)
			if err != nil {
				return err
			}
			signer, err := softwareSigner(doc, format)
			if err != nil {
				return err
			}
			data, err := msg.read(cmd)
			if err != nil {
				return err
			}
			sig, err := signWith(args[0], keyring.BackendSoftware, signer, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
			return nil
		},
	}
	msg.register(cmd)
	cmd.Flags().StringVar(&format, "format", formatASN1, "ECDSA signature encoding: asn1 or fixed")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the key's password")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var msg messageFlags
	var algorithm, format, pubHex, sigHex string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a hex signature against a hex public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			alg, err := parseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			pub, err := hex.DecodeString(pubHex)
			if err != nil {
				return fmt.Errorf("--pubkey: %w", err)
			}
			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				return fmt.Errorf("--signature: %w", err)
			}
			data, err := msg.read(cmd)
			if err != nil {
				return err
			}
			if err := verify(alg, format, pub, data, sig); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	msg.register(cmd)
	cmd.Flags().StringVar(&algorithm, "algorithm", "ed25519", "key algorithm: ed25519, ecdsa-p256 or ecdsa-secp256k1")
	cmd.Flags().StringVar(&format, "format", formatASN1, "ECDSA signature encoding: asn1 or fixed")
	cmd.Flags().StringVar(&pubHex, "pubkey", "", "hex public key")
	cmd.Flags().StringVar(&sigHex, "signature", "", "hex signature")
	_ = cmd.MarkFlagRequired("pubkey")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
