package config

// Merge takes a struct indicating which configuration options have been provided on the command
// line, as well as a configuration struct parsed from the command line which ALSO includes defaults
// that the user didn't specify. For example the default concurrency is 3 and if you don't specify
// that on the command line - it gets defaulted into the parsed configuration struct. So:
//
//  1. User provided a value: overwrite current config using the user's value
//  2. User did not provide a value, current config is unspecified: use the default in the parsed config
//  3. User did not provide a value, current config is specified: leave the current config untouched
//
// Images are the exception: images on the command line are appended to the images in the file.
func Merge(fromCmdline FromCmdLine, cfg Configuration) {
	if fromCmdline.LogLevel || config.LogLevel == "" {
		config.LogLevel = cfg.LogLevel
	}
	if fromCmdline.LogFile || config.LogFile == "" {
		config.LogFile = cfg.LogFile
	}
	if fromCmdline.ConfigFile || config.ConfigFile == "" {
		config.ConfigFile = cfg.ConfigFile
	}
	if fromCmdline.Backend || config.Backend == "" {
		config.Backend = cfg.Backend
	}
	if fromCmdline.DockerHost || config.DockerHost == "" {
		config.DockerHost = cfg.DockerHost
	}
	if fromCmdline.DockerApiVersion || config.DockerApiVersion == "" {
		config.DockerApiVersion = cfg.DockerApiVersion
	}
	if fromCmdline.ImagePath || config.ImagePath == "" {
		config.ImagePath = cfg.ImagePath
	}
	if fromCmdline.Os || config.Os == "" {
		config.Os = cfg.Os
	}
	if fromCmdline.Arch || config.Arch == "" {
		config.Arch = cfg.Arch
	}
	if fromCmdline.Concurrency || config.Concurrency == 0 {
		config.Concurrency = cfg.Concurrency
	}
	if fromCmdline.MaxAttempts || config.MaxAttempts == 0 {
		config.MaxAttempts = cfg.MaxAttempts
	}
	if fromCmdline.RetryBackoff || config.RetryBackoff == "" {
		config.RetryBackoff = cfg.RetryBackoff
	}
	if len(config.TimeoutMarkers) == 0 {
		config.TimeoutMarkers = cfg.TimeoutMarkers
	}
	if fromCmdline.StatusPort || config.StatusPort == 0 {
		config.StatusPort = cfg.StatusPort
	}
	if fromCmdline.ReportFile || config.ReportFile == "" {
		config.ReportFile = cfg.ReportFile
	}
	if fromCmdline.Strict || !config.Strict {
		config.Strict = cfg.Strict
	}
	if fromCmdline.ImageFile || config.ImageFile == "" {
		config.ImageFile = cfg.ImageFile
	}
	if fromCmdline.Images {
		config.Images = append(config.Images, cfg.Images...)
	}
}
