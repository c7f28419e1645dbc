package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	envURL    = "BOUNTY_URL"
	envToken  = "BOUNTY_TOKEN"
	envSecret = "BOUNTY_AUTH_SECRET"

	defaultURL = "http://127.0.0.1:8545"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globals holds options accepted before the command name.
type globals struct {
	url   string
	token string
}

func run(args []string, stdout, stderr io.Writer) int {
	g, rest, err := parseGlobals(args, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cl := newClient(g.url, g.token)

	switch rest[0] {
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	case "token":
		return runToken(rest[1:], stdout, stderr)
	case "digest":
		return runDigest(rest[1:], stdout, stderr)
	case "issuer":
		return runIssuer(cl, rest[1:], stdout, stderr)
	case "bounty":
		return runBounty(cl, rest[1:], stdout, stderr)
	case "register":
		return runRegister(cl, rest[1:], stdout, stderr)
	case "report":
		return runReport(cl, rest[1:], stdout, stderr)
	case "finalize":
		return runFinalize(cl, rest[1:], stdout, stderr)
	case "balance":
		return runBalance(cl, rest[1:], stdout, stderr)
	case "vault":
		return runVault(cl, rest[1:], stdout, stderr)
	case "events":
		return runEvents(cl, rest[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// parseGlobals consumes leading --url and --token options.
func parseGlobals(args []string, lookup func(string) (string, bool)) (globals, []string, error) {
	g := globals{url: defaultURL}
	if v, ok := lookup(envURL); ok && strings.TrimSpace(v) != "" {
		g.url = strings.TrimSpace(v)
	}
	if v, ok := lookup(envToken); ok {
		g.token = strings.TrimSpace(v)
	}
	for len(args) > 0 {
		name, value, hasValue := strings.Cut(args[0], "=")
		switch name {
		case "--url", "-url", "--token", "-token":
		default:
			return g, args, nil
		}
		args = args[1:]
		if !hasValue {
			if len(args) == 0 {
				return g, nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[0]
			args = args[1:]
		}
		if strings.HasSuffix(name, "url") {
			g.url = strings.TrimRight(strings.TrimSpace(value), "/")
		} else {
			g.token = strings.TrimSpace(value)
		}
	}
	return g, args, nil
}

func usage() string {
	return strings.TrimSpace(`
Usage: bounty-cli [--url URL] [--token JWT] <command> [args]

Local commands:
  keygen --out FILE                       generate a secp256k1 key and print its address
  token (--subject ADDR | --key FILE)     mint a bearer token (secret from ` + envSecret + `)
  digest [--hasher NAME] FILE             hash a report file

Ledger commands:
  issuer register                         register the token subject as an issuer
  issuer check ADDR                       report whether ADDR is an issuer
  bounty submit --reward N --commitment HASH [--type T] [--value N]
  bounty get|reward|escrow|withdraw ID
  bounty list | bounty at INDEX
  register ID                             join a bounty as a hunter
  report submit ID (--digest HASH | --file FILE)
  report get ID HUNTER | report list ID | report hunters ID
  finalize ID --hunter ADDR (--candidate HASH | --file FILE)
  balance ADDR | vault
  events [--cursor N] [--limit N] [--follow]

Environment: ` + envURL + `, ` + envToken + `, ` + envSecret)
}
