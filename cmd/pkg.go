/*
Pullgather pulls a list of container images concurrently, either through a
Docker Engine or directly from the upstream registries, and renders the layer
progress of every image as a block of progress bars.

Usage:

	pullgather [global flags] <command> [command flags] [image ...]

Commands:

	pull     Pulls the images on the command line, in --image-file, and in the
	         'images' list of the configuration file.
	list     Prints the resolved and validated image list without pulling.
	version  Displays the version.

Global flags:

	--log-level string
		Log level: debug, info, warn, or error. Defaults to 'info'.
	--log-file string
		Logs to the file rather than the console.
	--config-file string
		A yaml configuration file. Command line flags override file values.

Pull flags:

	--backend string
		docker (the default) or registry.
	--concurrency int
		The number of images pulled at the same time. Defaults to 3.
	--max-attempts int
		The number of times an image that times out is tried. Defaults to 3.
	--retry-backoff duration
		The initial wait between attempts. Doubles every retry. Defaults to 1s.
	--status-port int
		Serves /health, /status and /metrics while pulling. Zero disables.
	--report-file string
		Writes a JSON report of the outcome of every image.
	--strict
		Exits with status 1 unless every image was pulled.

Run with --help for the full list.
*/
package main
