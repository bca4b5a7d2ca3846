package config

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmpc/veil/pkg/party"
)

var addresses = []string{"localhost:7001", "localhost:7002", "localhost:7003"}

func TestGenerate(t *testing.T) {
	configs, err := Generate(rand.Reader, 1, addresses)
	require.NoError(t, err)
	require.Len(t, configs, 3)

	for i, c := range configs {
		assert.Equal(t, party.ID(i+1), c.ID)
		assert.Equal(t, 3, c.N())
		assert.Equal(t, 1, c.T())
		assert.NoError(t, c.Validate())
		assert.Equal(t, "localhost:7002", c.Address(2))
		assert.Equal(t, "", c.Address(9))
	}

	// All players share the global keys of their common subsets.
	s12 := party.NewSet(1, 2)
	assert.Equal(t, configs[0].Keys[s12], configs[1].Keys[s12])
	_, leaked := configs[2].Keys[s12]
	assert.False(t, leaked, "player 3 must not hold the {1 2} key")
}

func TestGenerateRejectsBadThreshold(t *testing.T) {
	_, err := Generate(rand.Reader, 2, addresses)
	assert.Error(t, err, "t = 2 breaks the honest majority for n = 3")
	_, err = Generate(rand.Reader, 0, nil)
	assert.Error(t, err)
}

func TestDealerKeyViews(t *testing.T) {
	configs, err := Generate(rand.Reader, 1, addresses)
	require.NoError(t, err)

	// Player 1's own dealer setup is complete; others hold partial views.
	assert.Len(t, configs[0].DealerKeys[1], 3)
	assert.Len(t, configs[1].DealerKeys[1], 2)

	s23 := party.NewSet(2, 3)
	assert.Equal(t, configs[0].DealerKeys[1][s23], configs[1].DealerKeys[1][s23])
}

func TestMarshalBinaryRoundTrip(t *testing.T) {
	configs, err := Generate(rand.Reader, 1, addresses)
	require.NoError(t, err)

	data, err := configs[0].MarshalBinary()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	loaded := &Config{}
	require.NoError(t, loaded.UnmarshalBinary(data))
	assert.Equal(t, configs[0], loaded)

	// Canonical encoding: marshalling the decoded config reproduces the
	// exact bytes.
	again, err := loaded.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestRoundTripFile(t *testing.T) {
	configs, err := Generate(rand.Reader, 1, addresses)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "player2.veil")
	require.NoError(t, configs[1].WriteFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs[1].ID, loaded.ID)
	assert.Equal(t, configs[1].Threshold, loaded.Threshold)
	assert.Equal(t, configs[1].Peers, loaded.Peers)
	assert.Equal(t, configs[1].Keys, loaded.Keys)
	assert.Equal(t, configs[1].DealerKeys, loaded.DealerKeys)
}

func TestValidateCatchesTampering(t *testing.T) {
	configs, err := Generate(rand.Reader, 1, addresses)
	require.NoError(t, err)

	c := configs[0]
	c.ID = 5
	assert.Error(t, c.Validate(), "own id not in roster")

	c = configs[1]
	delete(c.DealerKeys, 3)
	assert.Error(t, c.Validate(), "missing dealer setup")

	c = configs[2]
	for s := range c.Keys {
		c.Keys[s] = c.Keys[s][:4]
		break
	}
	assert.Error(t, c.Validate(), "truncated key")
}
