package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glinharesb/signatory-go/internal/config"
	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/logging"
)

// app carries state shared by every subcommand once the root command's
// PersistentPreRunE has run.
type app struct {
	v         *viper.Viper
	cfgFile   string
	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:   "signatory",
		Short: "Sign with software keys or hardware-module keys",
		Long: `signatory keeps PKCS#8 signing keys in a key store directory (or the
system keyring) and signs messages with Ed25519, ECDSA P-256 or ECDSA
secp256k1 keys. The hsm subcommands sign with keys held in a hardware
module reached through a connector URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default ./signatory.yaml or ~/.signatory/signatory.yaml)")
	f.String("keystore", "", "key store directory")
	f.String("keystore-backend", "", "key store backend: fs or system")
	f.String("hsm-url", "", "hardware module connector URL")
	f.String("log-level", "", "log level")
	f.String("log-format", "", "log format: auto, json or console")
	for key, flag := range map[string]string{
		"keystore.dir":     "keystore",
		"keystore.backend": "keystore-backend",
		"hsm.url":          "hsm-url",
		"log.level":        "log-level",
		"log.format":       "log-format",
	} {
		// Lookup never fails for flags defined above.
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}

	addKeyCommands(cmd, a)
	addSignCommands(cmd, a)
	addHSMCommands(cmd, a)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.LoadFrom(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	_, closer, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}
	a.logCloser = closer
	return nil
}

// openStore opens the configured key store. With create, a missing fs store
// directory is created.
func (a *app) openStore(create bool) (keystore.Store, error) {
	if a.cfg.Keystore.Backend == config.BackendSystem {
		kc := keyring.Config{
			ServiceName: keystore.DefaultServiceName,
			FileDir:     filepath.Join(a.cfg.Keystore.Dir, "keyring"),
		}
		if pw := a.cfg.Keystore.KeyringPassword; pw != "" {
			kc.FilePasswordFunc = keyring.FixedStringPrompt(pw)
		} else {
			kc.FilePasswordFunc = keyring.TerminalPrompt
		}
		return keystore.OpenSystemStore(kc)
	}

	if a.cfg.Keystore.Dir == "" {
		return nil, errors.New("no key store directory configured")
	}
	store, err := keystore.Open(a.cfg.Keystore.Dir)
	if err == nil {
		return store, nil
	}
	if !create || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	store, err = keystore.Create(a.cfg.Keystore.Dir)
	if err != nil {
		return nil, fmt.Errorf("create key store: %w", err)
	}
	return store, nil
}
