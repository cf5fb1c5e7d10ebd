package main

import (
	"fmt"
	"os"
	"strings"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if hasFlag("--help") || hasFlag("-h") {
			showUsage()
			return
		}
		exitOn("serve", runServe())
		return
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
	case "version":
		fmt.Println("nousim", version)
	case "serve":
		exitOn("serve", runServe())
	case "probe":
		exitOn("probe", runProbe(os.Stdout))
	case "discover":
		exitOn("discover", runDiscover(os.Stdout))
	case "doctor":
		exitOn("doctor", runDoctor(os.Stdout))
	case "encrypt":
		exitOn("encrypt", runEncrypt(os.Stdout))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'nousim --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func exitOn(cmd string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`nousim - register simulator for NoU robot peripherals

USAGE:
    nousim [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the register store and simulator gateway (default)
    probe       Acquire the configured peripherals once and print their values
    discover    List gateways advertised on the local network
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for the config file (needs NOUSIM_CONFIG_KEY)
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./nousim.yaml)

CONFIGURATION:
    Config file: ./nousim.yaml (optional; defaults apply when missing)
    Environment: NOUSIM_* variables override config

EXAMPLES:
    nousim                                   # Serve with defaults on 127.0.0.1:7350
    nousim --config bench.yaml               # Serve with a custom config
    NOUSIM_BACKEND_TYPE=remote nousim probe  # Probe peripherals on a remote gateway
    NOUSIM_CONFIG_KEY=... nousim encrypt tok # Produce an enc: value for a token`)
}

// configPath returns the --config flag, $NOUSIM_CONFIG or ./nousim.yaml.
func configPath() string {
	if p, ok := flagValue("--config"); ok {
		return p
	}
	if p := os.Getenv("NOUSIM_CONFIG"); p != "" {
		return p
	}
	return "nousim.yaml"
}

// flagValue finds "--name value" or "--name=value" in os.Args.
func flagValue(name string) (string, bool) {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1], true
		}
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

func hasFlag(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

// positional returns the arguments after the subcommand that are not flags.
func positional() []string {
	var out []string
	for i := 2; i < len(os.Args); i++ {
		arg := os.Args[i]
		if arg == "--config" {
			i++
			continue
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		out = append(out, arg)
	}
	return out
}
