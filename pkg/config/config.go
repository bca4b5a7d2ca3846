// Package config holds the per-player setup artifact: the roster of
// players, the sharing threshold, and the PRSS key material. One config
// file is generated per player and distributed out of band before any
// computation starts.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/veilmpc/veil/pkg/party"
	"github.com/veilmpc/veil/pkg/prss"
)

// Peer is one entry of the player roster.
type Peer struct {
	ID      party.ID `cbor:"id"`
	Address string   `cbor:"address"`
}

// Config is the setup of a single player. The PRSS keys it contains are
// secret; the file must only be readable by its owner.
type Config struct {
	ID        party.ID `cbor:"id"`
	Threshold int      `cbor:"threshold"`
	Peers     []Peer   `cbor:"peers"`

	// Keys are the global PRSS keys for the subsets containing ID.
	Keys prss.Keys `cbor:"keys"`

	// DealerKeys holds one independent PRSS setup per dealer, used for
	// non-interactive input of dealer-known values. The dealer's own
	// entry carries every subset key; other players carry the subsets
	// containing them.
	DealerKeys map[party.ID]prss.Keys `cbor:"dealer_keys"`
}

// N returns the number of players.
func (c *Config) N() int { return len(c.Peers) }

// T returns the sharing threshold: up to T players may collude, and
// degree-T sharings are used throughout.
func (c *Config) T() int { return c.Threshold }

// Address returns the network address of a player, or "" if unknown.
func (c *Config) Address(id party.ID) string {
	for _, p := range c.Peers {
		if p.ID == id {
			return p.Address
		}
	}
	return ""
}

// Validate checks the structural invariants of the config. The honest
// majority bound t < n/2 is fatal here; the stricter t < n/3 needed by
// Byzantine broadcast is only enforced when broadcast is used.
func (c *Config) Validate() error {
	n := c.N()
	if n == 0 {
		return fmt.Errorf("config: empty roster")
	}
	if 2*c.Threshold >= n {
		return fmt.Errorf("config: threshold %d requires an honest majority among %d players", c.Threshold, n)
	}
	seen := map[party.ID]bool{}
	for _, p := range c.Peers {
		if p.ID < 1 || int(p.ID) > n {
			return fmt.Errorf("config: peer id %v out of range 1..%d", p.ID, n)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate peer id %v", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen[c.ID] {
		return fmt.Errorf("config: own id %v not in roster", c.ID)
	}
	if _, err := prss.NewParty(n, c.Threshold, c.ID, c.Keys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for dealer := party.ID(1); int(dealer) <= n; dealer++ {
		keys, ok := c.DealerKeys[dealer]
		if !ok {
			return fmt.Errorf("config: missing dealer keys for player %v", dealer)
		}
		if dealer == c.ID {
			if err := prss.ValidateFull(n, c.Threshold, keys); err != nil {
				return fmt.Errorf("config: own dealer role: %w", err)
			}
			continue
		}
		if _, err := prss.NewParty(n, c.Threshold, c.ID, keys); err != nil {
			return fmt.Errorf("config: dealer %v: %w", dealer, err)
		}
	}
	return nil
}

// Generate draws fresh key material and builds the n config files for a
// computation with threshold t. addresses[i] is the address of player
// i+1.
func Generate(rand io.Reader, t int, addresses []string) ([]*Config, error) {
	n := len(addresses)
	if n == 0 {
		return nil, fmt.Errorf("config: no players")
	}
	if 2*t >= n {
		return nil, fmt.Errorf("config: threshold %d requires an honest majority among %d players", t, n)
	}

	peers := make([]Peer, n)
	for i, addr := range addresses {
		peers[i] = Peer{ID: party.ID(i + 1), Address: addr}
	}

	global, err := prss.GenerateKeys(rand, n, t)
	if err != nil {
		return nil, err
	}
	dealer := map[party.ID]prss.Keys{}
	for id := party.ID(1); int(id) <= n; id++ {
		dealer[id], err = prss.GenerateKeys(rand, n, t)
		if err != nil {
			return nil, err
		}
	}

	configs := make([]*Config, n)
	for i := range configs {
		id := party.ID(i + 1)
		dealerView := map[party.ID]prss.Keys{}
		for d, keys := range dealer {
			if d == id {
				dealerView[d] = keys
			} else {
				dealerView[d] = keys.ViewOf(id)
			}
		}
		configs[i] = &Config{
			ID:         id,
			Threshold:  t,
			Peers:      peers,
			Keys:       global.ViewOf(id),
			DealerKeys: dealerView,
		}
	}
	return configs, nil
}

var encMode, decMode = func() (cbor.EncMode, cbor.DecMode) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return enc, dec
}()

// rawConfig strips Config's methods. cbor dispatches on
// encoding.BinaryMarshaler before struct tags, so encoding Config
// directly would recurse back into MarshalBinary.
type rawConfig Config

// MarshalBinary encodes the config as canonical CBOR.
func (c *Config) MarshalBinary() ([]byte, error) {
	return encMode.Marshal((*rawConfig)(c))
}

// UnmarshalBinary decodes and validates a config.
func (c *Config) UnmarshalBinary(data []byte) error {
	if err := decMode.Unmarshal(data, (*rawConfig)(c)); err != nil {
		return fmt.Errorf("config: decoding: %w", err)
	}
	return c.Validate()
}

// WriteFile stores the config, owner-readable only.
func (c *Config) WriteFile(path string) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadFile reads and validates a config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return c, nil
}
