package main

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t     *testing.T
	store string
	stdin string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)
	return &cli{t: t, store: filepath.Join(home, "keys")}
}

// run executes the root command and returns its trimmed stdout.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(c.stdin))
	cmd.SetArgs(append([]string{"--keystore", c.store, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, strings.Join(args, " "))
	return out
}

func TestKeyLifecycle(t *testing.T) {
	for _, alg := range []string{"ed25519", "ecdsa-p256", "ecdsa-secp256k1"} {
		for _, format := range []string{formatASN1, formatFixed} {
			t.Run(alg+"/"+format, func(t *testing.T) {
				c := newCLI(t)

				pub := c.mustRun("keygen", "main", "--algorithm", alg)
				assert.NotEmpty(t, pub)
				assert.Equal(t, pub, c.mustRun("pubkey", "main"))

				sig := c.mustRun("sign", "main", "--message", "hello", "--format", format)
				out := c.mustRun("verify", "--algorithm", alg, "--format", format,
					"--pubkey", pub, "--signature", sig, "--message", "hello")
				assert.Equal(t, "OK", out)

				_, err := c.run("verify", "--algorithm", alg, "--format", format,
					"--pubkey", pub, "--signature", sig, "--message", "goodbye")
				assert.Error(t, err)

				assert.Contains(t, c.mustRun("list"), "main")

				c.mustRun("delete", "main")
				_, err = c.run("pubkey", "main")
				assert.Error(t, err)
			})
		}
	}
}

func TestListShowsAlgorithms(t *testing.T) {
	c := newCLI(t)
	t.Setenv("TEST_KEY_PASSWORD", "pw")
	pubA := c.mustRun("keygen", "a", "--algorithm", "ed25519")
	pubB := c.mustRun("keygen", "b", "--algorithm", "ecdsa-secp256k1")
	c.mustRun("keygen", "c", "--algorithm", "ecdsa-p256", "--password-env", "TEST_KEY_PASSWORD")

	lines := strings.Split(c.mustRun("list"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"a", "ed25519", pubA}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"b", "ecdsa-secp256k1", pubB}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"c", "encrypted", "-"}, strings.Fields(lines[2]))
}

func TestEncryptedKey(t *testing.T) {
	c := newCLI(t)
	t.Setenv("TEST_KEY_PASSWORD", "correct horse")

	pub := c.mustRun("keygen", "sealed", "--algorithm", "ecdsa-p256", "--password-env", "TEST_KEY_PASSWORD")
	assert.Contains(t, c.mustRun("list"), "encrypted")

	_, err := c.run("pubkey", "sealed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--password-env")

	assert.Equal(t, pub, c.mustRun("pubkey", "sealed", "--password-env", "TEST_KEY_PASSWORD"))

	t.Setenv("TEST_KEY_PASSWORD", "wrong")
	_, err = c.run("sign", "sealed", "--message", "m", "--password-env", "TEST_KEY_PASSWORD")
	assert.Error(t, err)
}

func TestMessageSources(t *testing.T) {
	c := newCLI(t)
	pub := c.mustRun("keygen", "k")

	path := filepath.Join(t.TempDir(), "msg")
	require.NoError(t, os.WriteFile(path, []byte("from a file"), 0o600))
	sig := c.mustRun("sign", "k", "--in", path)
	assert.Equal(t, "OK", c.mustRun("verify", "--pubkey", pub, "--signature", sig, "--message", "from a file"))

	c.stdin = "from stdin"
	sig = c.mustRun("sign", "k")
	c.stdin = ""
	assert.Equal(t, "OK", c.mustRun("verify", "--pubkey", pub, "--signature", sig, "--message", "from stdin"))

	// An explicitly empty message is still a message.
	sig = c.mustRun("sign", "k", "--message", "")
	c.stdin = "ignored"
	assert.Equal(t, "OK", c.mustRun("verify", "--pubkey", pub, "--signature", sig, "--message", ""))
}

func TestInvalidArguments(t *testing.T) {
	c := newCLI(t)
	c.mustRun("keygen", "k")

	for name, args := range map[string][]string{
		"algorithm": {"keygen", "x", "--algorithm", "rsa"},
		"label":     {"keygen", "../escape"},
		"format":    {"sign", "k", "--message", "m", "--format", "der"},
		"pubkey":    {"verify", "--pubkey", "zz", "--signature", "00", "--message", "m"},
		"missing":   {"sign", "absent", "--message", "m"},
		"backend":   {"--keystore-backend", "cloud", "list"},
	} {
		_, err := c.run(args...)
		assert.Error(t, err, name)
	}
}

func TestHSMCommands(t *testing.T) {
	c := newCLI(t)
	edPub := c.mustRun("keygen", "5", "--algorithm", "ed25519")
	ecPub := c.mustRun("keygen", "6", "--algorithm", "ecdsa-p256")
	hsmURL := (&url.URL{Scheme: "soft", RawQuery: url.Values{"keystore": {c.store}}.Encode()}).String()

	assert.Equal(t, edPub, c.mustRun("--hsm-url", hsmURL, "hsm", "pubkey", "5"))
	sig := c.mustRun("--hsm-url", hsmURL, "hsm", "sign", "5", "--message", "via module")
	assert.Equal(t, "OK", c.mustRun("verify", "--pubkey", edPub, "--signature", sig, "--message", "via module"))

	assert.Equal(t, ecPub, c.mustRun("--hsm-url", hsmURL, "hsm", "pubkey", "6", "--algorithm", "ecp256"))
	sig = c.mustRun("--hsm-url", hsmURL, "hsm", "sign", "6", "--algorithm", "ecp256", "--format", "fixed", "--message", "m")
	assert.Equal(t, "OK", c.mustRun("verify", "--algorithm", "ecdsa-p256", "--format", "fixed",
		"--pubkey", ecPub, "--signature", sig, "--message", "m"))

	_, err := c.run("--hsm-url", hsmURL, "hsm", "sign", "5", "--algorithm", "ecp256", "--message", "m")
	assert.Error(t, err, "algorithm mismatch")
	_, err = c.run("--hsm-url", hsmURL, "hsm", "pubkey", "70000")
	assert.Error(t, err, "key id out of range")
	_, err = c.run("--hsm-url", "nope://", "hsm", "pubkey", "5")
	assert.Error(t, err)
}
