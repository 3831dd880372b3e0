package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"sirsi-hub/internal/infra/config"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "discover":
		if err := runDiscover(); err != nil {
			fmt.Fprintf(os.Stderr, "discover: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'sirsi-hub --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`sirsi-hub - multi-agent cloud infrastructure hub

USAGE:
    sirsi-hub [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the hub (default)
    doctor      Run health checks on your setup
    discover    List sirsi services announced over mDNS on this network
    encrypt     Encrypt a secret for config.yaml (reads stdin when no value is given)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: SIRSI_* variables override config
    Secrets:     values prefixed "enc:" are decrypted with SIRSI_CONFIG_KEY

EXAMPLES:
    sirsi-hub                                   # Run with config.yaml
    sirsi-hub --config /etc/sirsi/config.yaml   # Run with custom config
    SIRSI_CONFIG_KEY=... sirsi-hub encrypt s3cret
    sirsi-hub doctor                            # Check system health`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SIRSI_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// runEncrypt prints the "enc:" form of a secret. The value comes from args
// or, when absent, the first line of in.
func runEncrypt(args []string, in io.Reader, out io.Writer) error {
	passphrase := os.Getenv("SIRSI_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("SIRSI_CONFIG_KEY must be set")
	}

	var value string
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		value = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enc:%s\n", enc)
	return err
}
