package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glinharesb/signatory-go/internal/hsm"
	_ "github.com/glinharesb/signatory-go/internal/hsm/pkcs11"
	_ "github.com/glinharesb/signatory-go/internal/hsm/remote"
	"github.com/glinharesb/signatory-go/internal/keyring"
)

type hsmFlags struct {
	algorithm string
	format    string
}

func (f *hsmFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.algorithm, "algorithm", hsm.AlgorithmEd25519.String(), "key algorithm: ed25519, ecp256 or eck256")
	cmd.Flags().StringVar(&f.format, "format", formatASN1, "ECDSA signature encoding: asn1 or fixed")
}

func addHSMCommands(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "hsm",
		Short: "Use keys held in a hardware module",
		Long: `The hsm commands open one session to the module at hsm.url
(--hsm-url), authenticating with hsm.auth_key_id and hsm.password. Supported
URL schemes: ` + fmt.Sprint(hsm.RegisteredSchemes()) + `.`,
	}
	cmd.AddCommand(newHSMPubkeyCmd(a), newHSMSignCmd(a))
	root.AddCommand(cmd)
}

// withSigner opens a session, binds the key in args[0] and runs fn.
func (a *app) withSigner(cmd *cobra.Command, args []string, f *hsmFlags, fn func(rawSigner) error) error {
	id, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("key id %q: %w", args[0], err)
	}
	alg, err := hsm.ParseAlgorithm(f.algorithm)
	if err != nil {
		return err
	}
	if err := checkFormat(f.format); err != nil {
		return err
	}

	session, err := hsm.Open(cmd.Context(), a.cfg.HSM.URL, hsm.KeyID(a.cfg.HSM.AuthKeyID), a.cfg.HSM.Password)
	if err != nil {
		return err
	}
	defer session.Close()

	signer, err := hsmSigner(session, hsm.KeyID(id), alg, f.format)
	if err != nil {
		return err
	}
	return fn(signer)
}

func newHSMPubkeyCmd(a *app) *cobra.Command {
	var f hsmFlags
	cmd := &cobra.Command{
		Use:   "pubkey KEY_ID",
		Short: "Print the hex public key of a module key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSigner(cmd, args, &f, func(s rawSigner) error {
				pub, err := s.PublicKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newHSMSignCmd(a *app) *cobra.Command {
	var f hsmFlags
	var msg messageFlags
	cmd := &cobra.Command{
		Use:   "sign KEY_ID",
		Short: "Sign a message with a module key and print the hex signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := msg.read(cmd)
			if err != nil {
				return err
			}
			return a.withSigner(cmd, args, &f, func(s rawSigner) error {
				sig, err := signWith(args[0], keyring.BackendHSM, s, data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
				return nil
			})
		},
	}
	f.register(cmd)
	msg.register(cmd)
	return cmd
}
