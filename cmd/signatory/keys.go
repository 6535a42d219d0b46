package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/pkcs8"
)

func addKeyCommands(root *cobra.Command, a *app) {
	root.AddCommand(
		newKeygenCmd(a),
		newListCmd(a),
		newPubkeyCmd(a),
		newDeleteCmd(a),
	)
}

func newKeygenCmd(a *app) *cobra.Command {
	var algorithm, passwordEnv string
	cmd := &cobra.Command{
		Use:   "keygen LABEL",
		Short: "Generate a key and store it under LABEL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := keystore.ParseLabel(args[0])
			if err != nil {
				return err
			}
			alg, err := parseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			plain, err := generate(alg)
			if err != nil {
				return err
			}
			signer, err := softwareSigner(plain, formatASN1)
			if err != nil {
				return err
			}
			pub, err := signer.PublicKey()
			if err != nil {
				return err
			}

			doc := plain
			if passwordEnv != "" {
				pw, err := password(passwordEnv)
				if err != nil {
					return err
				}
				key, err := plain.PrivateKey(nil)
				if err != nil {
					return err
				}
				if doc, err = pkcs8.EncodeEncrypted(key, pw); err != nil {
					return err
				}
			}

			store, err := a.openStore(true)
			if err != nil {
				return err
			}
			if err := store.Store(label, doc); err != nil {
				return err
			}
			log.Info().Str("label", label.String()).Stringer("algorithm", alg).Bool("encrypted", doc.Encrypted()).Msg("key generated")

			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", pkcs8.AlgorithmEd25519.String(), "key algorithm: ed25519, ecdsa-p256 or ecdsa-secp256k1")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "encrypt the key with the password in this environment variable")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys with their algorithm and hex public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(false)
			if err != nil {
				return err
			}
			labels, err := store.List()
			if err != nil {
				return err
			}

			r := newRing()
			kinds, failed := loadStore(r, store, labels)
			for label, err := range failed {
				log.Warn().Err(err).Str("label", label.String()).Msg("skipping unreadable key")
			}
			pubs, err := r.PublicKeys(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, label := range labels {
				kind, ok := kinds[label]
				if !ok || failed[label] != nil {
					continue
				}
				pub := "-"
				if pk, ok := pubs[label.String()]; ok {
					pub = hex.EncodeToString(pk)
				}
				fmt.Fprintf(out, "%-20s  %-16s  %s\n", label, kind, pub)
			}
			return nil
		},
	}
}

func newPubkeyCmd(a *app) *cobra.Command {
	var passwordEnv string
	cmd := &cobra.Command{
		Use:   "pubkey LABEL",
		Short: "Print the hex public key of a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.loadKey(args[0], passwordEnv)
			if err != nil {
				return err
			}
			signer, err := softwareSigner(doc, formatASN1)
			if err != nil {
				return err
			}
			pub, err := signer.PublicKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the key's password")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete LABEL",
		Short: "Delete a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := keystore.ParseLabel(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(false)
			if err != nil {
				return err
			}
			if err := store.Delete(label); err != nil {
				return err
			}
			log.Info().Str("label", label.String()).Msg("key deleted")
			return nil
		},
	}
}

// loadKey loads label and decrypts it with the password in passwordEnv when
// the stored document is encrypted.
func (a *app) loadKey(name, passwordEnv string) (*pkcs8.Document, error) {
	label, err := keystore.ParseLabel(name)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(false)
	if err != nil {
		return nil, err
	}
	doc, err := store.Load(label)
	if err != nil {
		return nil, err
	}
	if !doc.Encrypted() {
		return doc, nil
	}
	if passwordEnv == "" {
		return nil, fmt.Errorf("key %s is encrypted; pass --password-env", label)
	}
	pw, err := password(passwordEnv)
	if err != nil {
		return nil, err
	}
	return doc.Decrypt(pw)
}

func password(env string) ([]byte, error) {
	pw := os.Getenv(env)
	if pw == "" {
		return nil, fmt.Errorf("environment variable %s is empty", env)
	}
	return []byte(pw), nil
}
