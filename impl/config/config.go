package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// authCfg holds basic auth user/pass for registry access
type authCfg struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// tlsCfg holds TLS configuration for registry access
type tlsCfg struct {
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	CA                 string `yaml:"ca"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// ecrCfg enables the ECR token provider for a registry. Options are like
// "region=us-east-1,profile=dev". Expiry is a duration like "12h".
type ecrCfg struct {
	Enabled bool   `yaml:"enabled"`
	Options string `yaml:"options"`
	Expiry  string `yaml:"expiry"`
}

// RegistryConfig configures access to one upstream registry. Both fetch
// backends use it.
type RegistryConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Auth        authCfg `yaml:"auth"`
	Tls         tlsCfg  `yaml:"tls"`
	Scheme      string  `yaml:"scheme"`
	Ecr         ecrCfg  `yaml:"ecr"`
}

// RegistryOpts is the resolved form of a RegistryConfig.
type RegistryOpts struct {
	Scheme         string
	Username       string
	Password       string
	TlsCfg         *tls.Config
	Provider       string
	ProviderOpts   string
	ProviderExpiry string
}

// Configuration represents the totality of configuration knobs and dials for a run.
type Configuration struct {
	LogLevel         string           `yaml:"logLevel"`
	LogFile          string           `yaml:"logFile"`
	ConfigFile       string           `yaml:"configFile"`
	Backend          string           `yaml:"backend"`
	DockerHost       string           `yaml:"dockerHost"`
	DockerApiVersion string           `yaml:"dockerApiVersion"`
	ImagePath        string           `yaml:"imagePath"`
	Os               string           `yaml:"os"`
	Arch             string           `yaml:"arch"`
	Concurrency      int64            `yaml:"concurrency"`
	MaxAttempts      int64            `yaml:"maxAttempts"`
	RetryBackoff     string           `yaml:"retryBackoff"`
	TimeoutMarkers   []string         `yaml:"timeoutMarkers"`
	StatusPort       int64            `yaml:"statusPort"`
	ReportFile       string           `yaml:"reportFile"`
	Strict           bool             `yaml:"strict"`
	Images           []string         `yaml:"images"`
	ImageFile        string           `yaml:"imageFile"`
	Registries       []RegistryConfig `yaml:"registries"`
}

// FromCmdLine has a flag for every command-line option. The parsing code
// sets the flag to true if the option was explicitly provided on the command
// line by the user.
type FromCmdLine struct {
	Command          string
	LogLevel         bool
	LogFile          bool
	ConfigFile       bool
	Backend          bool
	DockerHost       bool
	DockerApiVersion bool
	ImagePath        bool
	Os               bool
	Arch             bool
	Concurrency      bool
	MaxAttempts      bool
	RetryBackoff     bool
	StatusPort       bool
	ReportFile       bool
	Strict           bool
	Images           bool
	ImageFile        bool
}

var (
	config    Configuration
	emptyAuth = authCfg{}
	emptyTls  = tlsCfg{}
	// resolved holds RegistryOpts by registry name so certs are only loaded once
	resolved   = map[string]RegistryOpts{}
	resolvedMu sync.Mutex
)

func GetLogLevel() string {
	return config.LogLevel
}

func GetLogFile() string {
	return config.LogFile
}

func GetConfigFile() string {
	return config.ConfigFile
}

func GetBackend() string {
	return config.Backend
}

func GetDockerHost() string {
	return config.DockerHost
}

func GetDockerApiVersion() string {
	return config.DockerApiVersion
}

func GetImagePath() string {
	return config.ImagePath
}

func GetOs() string {
	return config.Os
}

func GetArch() string {
	return config.Arch
}

func GetConcurrency() int64 {
	return config.Concurrency
}

func GetMaxAttempts() int64 {
	return config.MaxAttempts
}

func GetRetryBackoff() string {
	return config.RetryBackoff
}

func GetTimeoutMarkers() []string {
	return config.TimeoutMarkers
}

func GetStatusPort() int64 {
	return config.StatusPort
}

func GetReportFile() string {
	return config.ReportFile
}

func GetStrict() bool {
	return config.Strict
}

func GetImages() []string {
	return config.Images
}

func GetImageFile() string {
	return config.ImageFile
}

func GetRegistries() []RegistryConfig {
	return config.Registries
}

// Load loads the passed configuration file into the configuration struct
func Load(configFile string) error {
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("unable to stat configuration file: %s", configFile)
	}
	if contents, err := os.ReadFile(configFile); err != nil {
		return fmt.Errorf("error reading configuration file: %s", configFile)
	} else if err := SetConfigFromStr(contents); err != nil {
		return fmt.Errorf("error parsing configuration file: %s, the error was: %s", configFile, err)
	}
	return nil
}

// Get gets the current configuration
func Get() Configuration {
	return config
}

// Set replaces the configuration with the passed configuration
func Set(cfg Configuration) {
	config = cfg
	clearResolved()
}

// SetConfigFromStr parses the yaml input and sets the configuration from it
func SetConfigFromStr(configBytes []byte) error {
	var cfg Configuration
	if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
		return err
	}
	Set(cfg)
	return nil
}

func clearResolved() {
	resolvedMu.Lock()
	defer resolvedMu.Unlock()
	resolved = map[string]RegistryOpts{}
}

// ConfigFor looks for a configuration entry keyed by the passed 'registry' arg (e.g.
// 'index.docker.io') and returns the options for that registry. If no matching entry
// is found, then https with no credentials is returned.
//
// Loading certs is done once per registry and the result is saved for reuse.
func ConfigFor(registry string) (RegistryOpts, error) {
	opts := RegistryOpts{Scheme: "https"}

	found := RegistryConfig{}
	for _, reg := range config.Registries {
		if reg.Name == registry {
			found = reg
			break
		}
	}
	if found.Name == "" {
		return opts, nil
	}

	resolvedMu.Lock()
	defer resolvedMu.Unlock()
	if saved, ok := resolved[registry]; ok {
		return saved, nil
	}

	if found.Scheme != "" {
		opts.Scheme = found.Scheme
	}
	if found.Auth != emptyAuth {
		opts.Username = found.Auth.User
		opts.Password = found.Auth.Password
	}
	if found.Ecr.Enabled {
		opts.Provider = "ecr"
		opts.ProviderOpts = found.Ecr.Options
		opts.ProviderExpiry = found.Ecr.Expiry
	}
	if found.Tls != emptyTls {
		var cp *x509.CertPool
		clientCerts := []tls.Certificate{}
		if found.Tls.CA != "" {
			cp = x509.NewCertPool()
			caCert, err := os.ReadFile(found.Tls.CA)
			if err != nil {
				return opts, fmt.Errorf("unable to load CA for config entry %s from file: %s", registry, found.Tls.CA)
			}
			cp.AppendCertsFromPEM(caCert)
		}
		if found.Tls.Cert != "" && found.Tls.Key != "" {
			cert, err := tls.LoadX509KeyPair(found.Tls.Cert, found.Tls.Key)
			if err != nil {
				return opts, fmt.Errorf("unable to load client cert and/or key for config entry %s from files: cert: %s, key: %s", registry, found.Tls.Cert, found.Tls.Key)
			}
			clientCerts = []tls.Certificate{cert}
		}
		opts.TlsCfg = &tls.Config{
			InsecureSkipVerify: found.Tls.InsecureSkipVerify,
			RootCAs:            cp,
			Certificates:       clientCerts,
		}
	}
	resolved[registry] = opts
	return opts, nil
}
