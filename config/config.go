package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"redeempool/native/redemption"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	NetworkName   string `toml:"NetworkName"`
	// RedemptionWindow is the commit window in seconds, applied when the
	// pool is first created. Ignored on restart.
	RedemptionWindow int64 `toml:"RedemptionWindow"`
	// Beneficiary receives leftover funds and reclaimed tokens (0x hex).
	Beneficiary string `toml:"Beneficiary"`
	// GovernanceCap is the exclusive upper bound of the governed token id
	// range served by the bundled registry.
	GovernanceCap uint64 `toml:"GovernanceCap"`
	// Allocations seeds account balances (0x address -> base units) when the
	// pool is first created.
	Allocations map[string]string `toml:"Allocations"`
}

const defaultConfig = `RPCAddress = ":8645"
DataDir = "./redeempool-data"
NetworkName = "redeempool-local"
RedemptionWindow = 604800
Beneficiary = "0x00000000000000000000000000000000000000b1"
GovernanceCap = 10000

[Allocations]
`

// Load reads the configuration from the given path, creating a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "redeempool-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if cfg.Allocations == nil {
		cfg.Allocations = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node could not start with.
func (c *Config) Validate() error {
	if c.RedemptionWindow <= 0 {
		return fmt.Errorf("config: RedemptionWindow must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if !common.IsHexAddress(c.Beneficiary) {
		return fmt.Errorf("config: Beneficiary must be a hex address")
	}
	if common.HexToAddress(c.Beneficiary) == (common.Address{}) {
		return fmt.Errorf("config: Beneficiary must not be the zero address")
	}
	if c.GovernanceCap <= redemption.ReservedTokenIDs {
		return fmt.Errorf("config: GovernanceCap %d inside reserved band", c.GovernanceCap)
	}
	for addr := range c.Allocations {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: allocation address %q is not a hex address", addr)
		}
	}
	return nil
}

// BeneficiaryAddress returns the parsed beneficiary.
func (c *Config) BeneficiaryAddress() [20]byte {
	return common.HexToAddress(c.Beneficiary)
}

func createDefault(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfig), 0o644)
}
