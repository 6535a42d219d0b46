package hsm

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/pkcs8"
)

// ConnectorFactory builds a Connector from a parsed connector URL.
//
// Factories are registered with RegisterConnector, normally from an init
// function in the package that implements the transport.
type ConnectorFactory func(u *url.URL) (Connector, error)

var (
	registry   = make(map[string]ConnectorFactory)
	registryMu sync.RWMutex
)

// RegisterConnector registers factory for URL scheme. A later registration
// for the same scheme replaces the earlier one.
func RegisterConnector(scheme string, factory ConnectorFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = factory
}

// OpenConnector parses rawURL and hands it to the factory registered for its scheme.
func OpenConnector(rawURL string) (Connector, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse connector url: %w", err)
	}
	registryMu.RLock()
	factory, ok := registry[u.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for scheme %q", u.Scheme)
	}
	return factory(u)
}

// RegisteredSchemes returns the sorted list of registered URL schemes.
func RegisteredSchemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// Factory-default credentials of a fresh soft module.
const (
	DefaultAuthKeyID KeyID = 1
	DefaultPassword        = "password"
)

func init() {
	RegisterConnector("soft", openSoftModule)
}

// openSoftModule serves soft://[?keystore=DIR]. The module gets the
// factory-default auth key. With a keystore, every key whose label is a
// decimal object id is imported under that id.
func openSoftModule(u *url.URL) (Connector, error) {
	m := NewSoftModule()
	if err := m.AddAuthKey(DefaultAuthKeyID, DefaultPassword); err != nil {
		return nil, err
	}
	dir := u.Query().Get("keystore")
	if dir == "" {
		return m, nil
	}

	store, err := keystore.Open(dir)
	if err != nil {
		return nil, err
	}
	if err := ImportStore(m, store); err != nil {
		return nil, err
	}
	return m, nil
}

// ImportStore copies every key in store whose label parses as an object id
// into m. Other labels are skipped. A numeric label that is not the id's
// canonical decimal form, such as "07", is an error, since it would alias
// the key stored as "7".
func ImportStore(m *SoftModule, store keystore.Store) error {
	labels, err := store.List()
	if err != nil {
		return err
	}
	for _, label := range labels {
		id, err := strconv.ParseUint(string(label), 10, 16)
		if err != nil {
			continue
		}
		if canonical := strconv.FormatUint(id, 10); canonical != string(label) {
			return fmt.Errorf("import key %q: label names object %d; store it as %q", label, id, canonical)
		}
		doc, err := store.Load(label)
		if err != nil {
			return err
		}
		alg, ok := algorithmOf(doc.Algorithm())
		if !ok {
			log.Warn().Str("label", string(label)).Msg("skipping key with unsupported algorithm")
			continue
		}
		if err := m.PutKey(KeyID(id), alg, doc); err != nil {
			return err
		}
	}
	return nil
}

func algorithmOf(a pkcs8.Algorithm) (Algorithm, bool) {
	switch a {
	case pkcs8.AlgorithmEd25519:
		return AlgorithmEd25519, true
	case pkcs8.AlgorithmECDSAP256:
		return AlgorithmEcP256, true
	case pkcs8.AlgorithmECDSASecp256k1:
		return AlgorithmEcK256, true
	default:
		return AlgorithmUnknown, false
	}
}
