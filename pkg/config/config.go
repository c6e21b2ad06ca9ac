package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = ".simtdbg"
	configDirXDG    string = "simtdbg"
	configFile      string = "config.yml"
	xdgConfigHomeEV string = "XDG_CONFIG_HOME"
)

// Defaults used when the configuration file leaves a value unset.
const (
	DefaultMetadataCacheSize     = 64
	DefaultImplicitArgsCacheSize = 256
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// DebugAreaOffset is the offset from the ISA base of the debug area
	// header that describes the scratch region.
	DebugAreaOffset uint64 `yaml:"debug-area-offset"`

	// MetadataCacheSize is the number of kernel metadata entries cached
	// between two resumes.
	MetadataCacheSize int `yaml:"metadata-cache-size,omitempty"`

	// ImplicitArgsCacheSize is the number of implicit argument blocks
	// cached between two resumes.
	ImplicitArgsCacheSize int `yaml:"implicit-args-cache-size,omitempty"`

	// WarnPermanentBreakpoints controls the warning printed when a
	// breakpoint is inserted on an instruction that already carries one.
	WarnPermanentBreakpoints *bool `yaml:"warn-permanent-breakpoints,omitempty"`

	// LogOutput is the default value of --log-output.
	LogOutput string `yaml:"log-output,omitempty"`
}

// MetadataCache returns the metadata cache size, or its default.
func (c *Config) MetadataCache() int {
	if c == nil || c.MetadataCacheSize <= 0 {
		return DefaultMetadataCacheSize
	}
	return c.MetadataCacheSize
}

// ImplicitArgsCache returns the implicit arguments cache size, or its
// default.
func (c *Config) ImplicitArgsCache() int {
	if c == nil || c.ImplicitArgsCacheSize <= 0 {
		return DefaultImplicitArgsCacheSize
	}
	return c.ImplicitArgsCacheSize
}

// WarnPermanent reports whether permanent breakpoints should be warned
// about. The default is true.
func (c *Config) WarnPermanent() bool {
	if c == nil || c.WarnPermanentBreakpoints == nil {
		return true
	}
	return *c.WarnPermanentBreakpoints
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	f.Close()
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile reads the configuration in file.
func LoadConfigFile(file string) (*Config, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigFile(conf, fullConfigFile)
}

// SaveConfigFile writes conf to file.
func SaveConfigFile(conf *Config, file string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for simtdbg.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Offset of the debug area header from the ISA base.
debug-area-offset: 0

# Number of kernel metadata entries kept between two resumes.
# metadata-cache-size: 64

# Number of implicit argument blocks kept between two resumes.
# implicit-args-cache-size: 256

# Uncomment the following line to silence the warning printed when a
# breakpoint is inserted on an instruction that already has one.
# warn-permanent-breakpoints: false

# Comma separated list of components that log by default (see 'simtdbg help log').
# log-output: gt
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv(xdgConfigHomeEV); configPath != "" {
		return path.Join(configPath, configDirXDG, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
