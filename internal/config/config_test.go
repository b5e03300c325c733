package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omxlabs/amx-sub001/internal/event"
	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

func TestEnvDefaults(t *testing.T) {
	t.Setenv("AMX_GRPC_ADDR", ":19090")
	t.Setenv("AMX_PERSIST_BATCH_SIZE", "7")
	t.Setenv("AMX_SNAPSHOT_INTERVAL", "90s")
	t.Setenv("AMX_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":19090", cfg.Server.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 7, cfg.Pipeline.PersistBatchSize)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.SnapshotInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.Pipeline.PersistFlushTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Pyth.Enabled)

	opts := cfg.ConsumerOptions()
	assert.Equal(t, 30*time.Second, opts.AckWait)
	assert.Equal(t, 5, opts.MaxDeliver)
	assert.Equal(t, 72*time.Hour, cfg.StreamRetention().Commands)
}

func TestBadEnvIntFallsBack(t *testing.T) {
	t.Setenv("AMX_PERSIST_CHAN_SIZE", "lots")
	assert.Equal(t, 1024, FromEnv().Pipeline.PersistChanSize)
}

const sample = `
[server]
grpc_addr = ":7000"

[nats]
max_deliver = 12
price_retention = "10m"

[redis]
enabled = true
addr = "localhost:6379"
ttl = "5m"

[pipeline]
persist_flush_timeout = "25ms"

[oracle]
max_price_age = 120

[genesis]
gov = "gov"
liquidators = ["keeper"]

[[genesis.assets]]
token = "ETH"
decimals = 18
weight = 10000
is_shortable = true
feed_id = "eth-usd"
max_usd_amount = "5000000"

[[genesis.assets]]
token = "USDC"
decimals = 6
weight = 10000
is_stable = true
feed_id = "usdc-usd"
strict_stable = true

[genesis.fees]
margin_fee_bps = 10
liquidation_fee_usd = "5"

[genesis.position]
max_leverage_bps = 500000
`

func TestTOMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amx.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("AMX_CONFIG_FILE", path)
	t.Setenv("AMX_HTTP_ADDR", ":18080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.GRPCAddr)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr, "keys absent from the file keep their env value")
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, 12, cfg.ConsumerOptions().MaxDeliver)
	assert.Equal(t, 10*time.Minute, cfg.StreamRetention().Prices)
	assert.Equal(t, 25*time.Millisecond, cfg.Pipeline.PersistFlushTimeout)
	assert.Equal(t, []string{"eth-usd", "usdc-usd"}, cfg.Genesis.FeedIDs())

	p := cfg.CoreParams()
	assert.Equal(t, int64(120), p.Oracle.MaxPriceAge)
	assert.Equal(t, cfg.Pipeline.IdempotencyCapacity, p.IdempotencyCapacity)
}

func TestValidate(t *testing.T) {
	t.Setenv("AMX_GOV", "")
	t.Setenv("AMX_REDIS_ADDR", "")
	for name, doc := range map[string]string{
		"pyth without feeds":    "[pyth]\nenabled = true\nws_url = \"wss://hermes\"\n",
		"redis without addr":    "[redis]\nenabled = true\naddr = \"\"\n",
		"market without gov":    "[[genesis.assets]]\ntoken = \"ETH\"\n",
		"duplicate asset":       "[genesis]\ngov = \"g\"\n[[genesis.assets]]\ntoken = \"ETH\"\n[[genesis.assets]]\ntoken = \"ETH\"\n",
		"bad max usd":           "[genesis]\ngov = \"g\"\n[[genesis.assets]]\ntoken = \"ETH\"\nmax_usd_amount = \"lots\"\n",
		"decimals out of range": "[genesis]\ngov = \"g\"\n[[genesis.assets]]\ntoken = \"ETH\"\ndecimals = 31\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(doc)
			assert.Error(t, err)
		})
	}
}

func TestGenesisCommands(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	cmds, err := cfg.Genesis.Commands(1_700_000_000)
	require.NoError(t, err)

	var types []event.EventType
	for i, c := range cmds {
		types = append(types, c.EventType())
		assert.Equal(t, int64(i), c.SourceSequence())
		assert.Equal(t, "gov", c.Sender())
		assert.Equal(t, int64(1_700_000_000), c.OccurredAt())
	}
	assert.Equal(t, []event.EventType{
		event.EventTypeInitialize,
		event.EventTypeSetAssetConfig, event.EventTypeSetPriceFeed,
		event.EventTypeSetAssetConfig, event.EventTypeSetPriceFeed,
		event.EventTypeSetFeeParams,
		event.EventTypeSetPositionParams,
		event.EventTypeSetLiquidator,
	}, types)

	eth := cmds[1].(*event.SetAssetConfig)
	want, err := fpmath.FromDecimal("5000000", fpmath.PriceDecimals)
	require.NoError(t, err)
	assert.Equal(t, want, eth.MaxUsdAmount)
	assert.True(t, cmds[4].(*event.SetPriceFeed).StrictStable)

	// IDs are stable across restarts
	again, err := cfg.Genesis.Commands(1_700_000_500)
	require.NoError(t, err)
	for i := range cmds {
		assert.Equal(t, cmds[i].IdempotencyKey(), again[i].IdempotencyKey())
	}
}

func TestEmptyGenesis(t *testing.T) {
	cmds, err := Genesis{}.Commands(0)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
