package main

import (
	"fmt"
	"os"

	"github.com/dargueta/blockfs"
	"github.com/kelseyhightower/envconfig"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix     = "SIMPLEFS"
	defaultBlockSize = 4096
)

// Config holds the settings shared by every command. Values come from, in
// increasing order of precedence: the defaults, a YAML config file, SIMPLEFS_*
// environment variables, and command line flags.
type Config struct {
	Image     string `envconfig:"SIMPLEFS_IMAGE"      yaml:"image"`
	Blocks    uint   `envconfig:"SIMPLEFS_BLOCKS"     yaml:"blocks"`
	BlockSize uint   `envconfig:"SIMPLEFS_BLOCK_SIZE" yaml:"blockSize"`
	Cache     bool   `envconfig:"SIMPLEFS_CACHE"      yaml:"cache"`
	Debug     bool   `envconfig:"SIMPLEFS_DEBUG"      yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{BlockSize: defaultBlockSize}
}

// LoadConfig reads the config file and then the environment. If `configFile`
// is empty, the path in SIMPLEFS_CONFIG_FILE is used instead, and if that's not
// set either, no file is read. A file that was asked for but is missing is an
// error.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}

	c := DefaultConfig()
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

// ApplyFlags overrides the config with any global flags given explicitly on
// the command line.
func (c *Config) ApplyFlags(ctx *cli.Context) {
	if ctx.IsSet(flagImage) {
		c.Image = ctx.String(flagImage)
	}
	if ctx.IsSet(flagBlocks) {
		c.Blocks = ctx.Uint(flagBlocks)
	}
	if ctx.IsSet(flagBlockSize) {
		c.BlockSize = ctx.Uint(flagBlockSize)
	}
	if ctx.IsSet(flagCache) {
		c.Cache = ctx.Bool(flagCache)
	}
	if ctx.IsSet(flagDebug) {
		c.Debug = ctx.Bool(flagDebug)
	}
}

func (c *Config) Validate() error {
	if c.Image == "" {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"missing required configuration: image / %s_IMAGE / --%s",
				envVarPrefix,
				flagImage))
	}
	if c.BlockSize == 0 {
		return blockfs.ErrInvalidArgument.WithMessage("block size can't be 0")
	}
	return nil
}
