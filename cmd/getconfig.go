package main

import (
	"github.com/aceeric/pullgather/impl/cmdline"
	"github.com/aceeric/pullgather/impl/config"
)

// getCfg calls the command line parser to parse the command line. If one of the command line
// args was '--config-file' then the the function calls the config loader to load that config file
// into the global configuration. Then any overrides from the command line are overwritten into
// the global configuration. If '--config-file' was NOT provided on the command line, then
// the config from the parsed cmdline is used in its entirety as the configuration (which has all
// the defaults, like concurrency, etc.)
//
// Registry auth, TLS and ECR settings can ONLY be provided via the config file. The merged
// configuration is validated before it is returned for the pull command.
//
// The sub-command specified on the command line (pull, list, etc.) is returned in the first
// return value.
func getCfg() (string, error) {
	fromCmdline, cfg, err := cmdline.Parse()
	if err != nil {
		return "", err
	}
	if fromCmdline.ConfigFile {
		if err := config.Load(cfg.ConfigFile); err != nil {
			return "", err
		}
		config.Merge(fromCmdline, cfg)
	} else {
		config.Set(cfg)
	}
	if fromCmdline.Command == "pull" {
		if err := config.Validate(); err != nil {
			return "", err
		}
	}
	return fromCmdline.Command, nil
}
