// Package config loads consensusd's TOML configuration file, generating a
// validator keystore and a default file the first time the node runs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/CoinCulture/agnes/crypto"
)

// Timeouts configures how long the timer.Scheduler waits at each step
// before firing a timeout input into the Executor.
type Timeouts struct {
	Propose   time.Duration `toml:"Propose"`
	Prevote   time.Duration `toml:"Prevote"`
	Precommit time.Duration `toml:"Precommit"`
}

// Config is consensusd's on-disk configuration.
type Config struct {
	DataDir           string   `toml:"DataDir"`
	DebugAddress      string   `toml:"DebugAddress"`
	ValidatorKeystore string   `toml:"ValidatorKeystore"`
	Validators        []string `toml:"Validators"`
	Timeouts          Timeouts `toml:"Timeouts"`
	OTLPEndpoint      string   `toml:"OTLPEndpoint"`
	OTLPInsecure      bool     `toml:"OTLPInsecure"`
}

// Load reads the configuration at path, writing a default file with a fresh
// validator key if none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg *Config) *Config {
	if cfg.DataDir == "" {
		cfg.DataDir = "./consensusd-data"
	}
	if cfg.DebugAddress == "" {
		cfg.DebugAddress = "127.0.0.1:8090"
	}
	if cfg.ValidatorKeystore == "" {
		cfg.ValidatorKeystore = cfg.DataDir + "/validator.keystore"
	}
	if cfg.Timeouts.Propose <= 0 {
		cfg.Timeouts.Propose = 3 * time.Second
	}
	if cfg.Timeouts.Prevote <= 0 {
		cfg.Timeouts.Prevote = time.Second
	}
	if cfg.Timeouts.Precommit <= 0 {
		cfg.Timeouts.Precommit = time.Second
	}
	return cfg
}

// createDefault writes a fresh config.toml with a newly generated validator
// key and saves that key's keystore file alongside it, encrypted with
// defaultDevPassphrase. Only the Config is returned; the passphrase is not
// returned or logged.
func createDefault(path string) (*Config, error) {
	cfg := applyDefaults(&Config{})

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate validator key: %w", err)
	}
	passphrase := defaultDevPassphrase
	if err := crypto.SaveToKeystore(cfg.ValidatorKeystore, key, passphrase); err != nil {
		return nil, fmt.Errorf("config: save validator keystore: %w", err)
	}

	cfg.Validators = []string{key.PubKey().Address().String()}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode %s: %w", path, err)
	}

	return cfg, nil
}

// defaultDevPassphrase protects the keystore generated for a first run
// without any operator-supplied secret. Production deployments always set
// CONSENSUSD_VALIDATOR_PASS and point ValidatorKeystore at a pre-provisioned
// file instead of relying on this path.
const defaultDevPassphrase = "consensusd-dev"
