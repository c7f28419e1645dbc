package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"nhooyr.io/websocket"

	"zkbounty/cmd/internal/secret"
	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/rpc"
	"zkbounty/storage/eventlog"
)

var (
	tokenNow    = time.Now
	tokenSecret = func() (string, error) {
		return secret.NewSource(envSecret, "Auth secret: ").Get()
	}
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseArgs parses flags that may appear before or after positional
// arguments and returns the positionals in order.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func printError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printJSON(stdout io.Writer, v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func expectArgs(positional []string, n int, what string) error {
	if len(positional) != n {
		return fmt.Errorf("expected %s", what)
	}
	return nil
}

func hashFile(hasherName, path string) (types.Digest, error) {
	h, err := bounty.HasherByName(hasherName)
	if err != nil {
		return types.Digest{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return types.Digest{}, fmt.Errorf("read %s: %w", path, err)
	}
	return bounty.DigestReport(h, content), nil
}

// digestFlag resolves a digest given either as hex or as a file to hash.
func digestFlag(name, raw, file, hasherName string) (types.Digest, error) {
	switch {
	case raw != "" && file != "":
		return types.Digest{}, fmt.Errorf("--%s and --file are mutually exclusive", name)
	case raw != "":
		return types.ParseDigest(raw)
	case file != "":
		return hashFile(hasherName, file)
	default:
		return types.Digest{}, fmt.Errorf("--%s or --file is required", name)
	}
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "file to write the hex encoded private key to")
	if _, err := parseArgs(fs, args); err != nil {
		return 1
	}
	if *out == "" {
		return printError(stderr, errors.New("--out is required"))
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Errorf("%s already exists", *out))
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return printError(stderr, err)
	}
	if err := ethcrypto.SaveECDSA(*out, key); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	subject := fs.String("subject", "", "caller address placed in the sub claim")
	keyFile := fs.String("key", "", "derive the subject from a key file written by keygen")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "zkbounty", "iss claim; must match the server's Auth.Issuer")
	audience := fs.String("audience", "", "aud claim; must match the server's Auth.Audience when set")
	if _, err := parseArgs(fs, args); err != nil {
		return 1
	}

	var caller types.Principal
	switch {
	case *subject != "" && *keyFile != "":
		return printError(stderr, errors.New("--subject and --key are mutually exclusive"))
	case *subject != "":
		addr, err := types.ParsePrincipal(*subject)
		if err != nil {
			return printError(stderr, err)
		}
		caller = addr
	case *keyFile != "":
		key, err := ethcrypto.LoadECDSA(*keyFile)
		if err != nil {
			return printError(stderr, fmt.Errorf("load key: %w", err))
		}
		caller = ethcrypto.PubkeyToAddress(key.PublicKey)
	default:
		return printError(stderr, errors.New("--subject or --key is required"))
	}

	hmacSecret, err := tokenSecret()
	if err != nil {
		return printError(stderr, err)
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{HMACSecret: hmacSecret, Issuer: *issuer, Audience: *audience}, caller, *ttl, tokenNow())
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runDigest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("digest", stderr)
	hasher := fs.String("hasher", bounty.HasherKeccak256, "keccak256, blake3 or sha256")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 1
	}
	if err := expectArgs(positional, 1, "a single report file"); err != nil {
		return printError(stderr, err)
	}
	digest, err := hashFile(*hasher, positional[0])
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, digest.Hex())
	return 0
}

func runIssuer(cl *client, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, errors.New("issuer requires a subcommand: register or check"))
	}
	switch args[0] {
	case "register":
		var out map[string]interface{}
		if err := cl.send(http.MethodPost, "/v1/issuers", nil, &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintf(stdout, "registered issuer %v\n", out["issuer"])
		return 0
	case "check":
		if err := expectArgs(args[1:], 1, "an address"); err != nil {
			return printError(stderr, err)
		}
		var out map[string]interface{}
		if err := cl.get("/v1/issuers/"+url.PathEscape(args[1]), &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintln(stdout, out["registered"])
		return 0
	default:
		return printError(stderr, fmt.Errorf("unknown issuer subcommand %q", args[0]))
	}
}

func runBounty(cl *client, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, errors.New("bounty requires a subcommand"))
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "submit":
		return runBountySubmit(cl, rest, stdout, stderr)
	case "list":
		var out map[string]interface{}
		if err := cl.get("/v1/bounties", &out); err != nil {
			return printError(stderr, err)
		}
		if ids, ok := out["ids"].([]interface{}); ok {
			for _, id := range ids {
				fmt.Fprintln(stdout, id)
			}
		}
		return 0
	case "at":
		if err := expectArgs(rest, 1, "an index"); err != nil {
			return printError(stderr, err)
		}
		if _, err := strconv.ParseUint(rest[0], 10, 64); err != nil {
			return printError(stderr, errors.New("index must be a non-negative integer"))
		}
		var out map[string]interface{}
		if err := cl.get("/v1/bounties/index/"+rest[0], &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintln(stdout, out["id"])
		return 0
	case "get", "reward", "escrow":
		if err := expectArgs(rest, 1, "a bounty id"); err != nil {
			return printError(stderr, err)
		}
		path := "/v1/bounties/" + url.PathEscape(rest[0])
		if sub != "get" {
			path += "/" + sub
		}
		var out map[string]interface{}
		if err := cl.get(path, &out); err != nil {
			return printError(stderr, err)
		}
		if sub == "get" {
			_ = printJSON(stdout, out)
		} else {
			fmt.Fprintln(stdout, out[sub])
		}
		return 0
	case "withdraw":
		if err := expectArgs(rest, 1, "a bounty id"); err != nil {
			return printError(stderr, err)
		}
		var out rpc.BountyResult
		if err := cl.send(http.MethodDelete, "/v1/bounties/"+url.PathEscape(rest[0]), nil, &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintf(stdout, "withdrew %s, refunded %s\n", out.ID, out.Reward)
		return 0
	default:
		return printError(stderr, fmt.Errorf("unknown bounty subcommand %q", sub))
	}
}

func runBountySubmit(cl *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty submit", stderr)
	bountyType := fs.Uint("type", 0, "bounty type tag (0-255)")
	reward := fs.String("reward", "", "reward in base units")
	value := fs.String("value", "", "value sent with the bounty; defaults to the reward")
	commitment := fs.String("commitment", "", "0x commitment hash")
	file := fs.String("file", "", "hash this file as the commitment")
	hasher := fs.String("hasher", bounty.HasherKeccak256, "hasher used with --file")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) > 0 {
		return printError(stderr, errors.New("unexpected positional arguments"))
	}
	if *bountyType > 255 {
		return printError(stderr, errors.New("--type must fit in one byte"))
	}
	if strings.TrimSpace(*reward) == "" {
		return printError(stderr, errors.New("--reward is required"))
	}
	digest, err := digestFlag("commitment", *commitment, *file, *hasher)
	if err != nil {
		return printError(stderr, err)
	}
	req := rpc.SubmitBountyRequest{
		BountyType:     uint8(*bountyType),
		Reward:         strings.TrimSpace(*reward),
		CommitmentHash: digest.Hex(),
		Value:          strings.TrimSpace(*value),
	}
	var out rpc.BountyResult
	if err := cl.send(http.MethodPost, "/v1/bounties", req, &out); err != nil {
		return printError(stderr, err)
	}
	_ = printJSON(stdout, out)
	return 0
}

func runRegister(cl *client, args []string, stdout, stderr io.Writer) int {
	if err := expectArgs(args, 1, "a bounty id"); err != nil {
		return printError(stderr, err)
	}
	if err := cl.send(http.MethodPost, "/v1/bounties/"+url.PathEscape(args[0])+"/hunters", nil, nil); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintf(stdout, "registered to %s\n", args[0])
	return 0
}

func runReport(cl *client, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, errors.New("report requires a subcommand: submit, get, list or hunters"))
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "submit":
		fs := newFlagSet("report submit", stderr)
		digestHex := fs.String("digest", "", "0x report digest")
		file := fs.String("file", "", "hash this report file")
		hasher := fs.String("hasher", bounty.HasherKeccak256, "hasher used with --file")
		positional, err := parseArgs(fs, rest)
		if err != nil {
			return 1
		}
		if err := expectArgs(positional, 1, "a bounty id"); err != nil {
			return printError(stderr, err)
		}
		digest, err := digestFlag("digest", *digestHex, *file, *hasher)
		if err != nil {
			return printError(stderr, err)
		}
		var out rpc.SubmissionResult
		if err := cl.send(http.MethodPost, "/v1/bounties/"+url.PathEscape(positional[0])+"/reports",
			rpc.SubmitReportRequest{Digest: digest.Hex()}, &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintf(stdout, "submitted %s\n", out.Digest)
		return 0
	case "get":
		if err := expectArgs(rest, 2, "a bounty id and a hunter address"); err != nil {
			return printError(stderr, err)
		}
		var out rpc.SubmissionResult
		if err := cl.get("/v1/bounties/"+url.PathEscape(rest[0])+"/reports/"+url.PathEscape(rest[1]), &out); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintln(stdout, out.Digest)
		return 0
	case "list":
		if err := expectArgs(rest, 1, "a bounty id"); err != nil {
			return printError(stderr, err)
		}
		var out struct {
			Reports []rpc.SubmissionResult `json:"reports"`
		}
		if err := cl.get("/v1/bounties/"+url.PathEscape(rest[0])+"/reports", &out); err != nil {
			return printError(stderr, err)
		}
		for _, r := range out.Reports {
			fmt.Fprintf(stdout, "%s %s\n", r.Hunter, r.Digest)
		}
		return 0
	case "hunters":
		if err := expectArgs(rest, 1, "a bounty id"); err != nil {
			return printError(stderr, err)
		}
		var out struct {
			Hunters []string `json:"hunters"`
		}
		if err := cl.get("/v1/bounties/"+url.PathEscape(rest[0])+"/hunters", &out); err != nil {
			return printError(stderr, err)
		}
		for _, h := range out.Hunters {
			fmt.Fprintln(stdout, h)
		}
		return 0
	default:
		return printError(stderr, fmt.Errorf("unknown report subcommand %q", sub))
	}
}

func runFinalize(cl *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("finalize", stderr)
	hunter := fs.String("hunter", "", "hunter whose report is evaluated")
	candidate := fs.String("candidate", "", "0x candidate digest")
	file := fs.String("file", "", "hash this file as the candidate")
	hasher := fs.String("hasher", bounty.HasherKeccak256, "hasher used with --file")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 1
	}
	if err := expectArgs(positional, 1, "a bounty id"); err != nil {
		return printError(stderr, err)
	}
	if _, err := types.ParsePrincipal(*hunter); err != nil {
		return printError(stderr, fmt.Errorf("--hunter: %w", err))
	}
	digest, err := digestFlag("candidate", *candidate, *file, *hasher)
	if err != nil {
		return printError(stderr, err)
	}
	var out rpc.FinalizeResult
	req := rpc.FinalizeRequest{Hunter: *hunter, CandidateHash: digest.Hex()}
	if err := cl.send(http.MethodPost, "/v1/bounties/"+url.PathEscape(positional[0])+"/finalize", req, &out); err != nil {
		return printError(stderr, err)
	}
	if out.Approved {
		fmt.Fprintln(stdout, "approved: reward paid")
	} else {
		fmt.Fprintln(stdout, "rejected: hunters and reports cleared")
	}
	return 0
}

func runBalance(cl *client, args []string, stdout, stderr io.Writer) int {
	if err := expectArgs(args, 1, "an address"); err != nil {
		return printError(stderr, err)
	}
	var out rpc.AccountResult
	if err := cl.get("/v1/accounts/"+url.PathEscape(args[0]), &out); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, out.Balance)
	return 0
}

func runVault(cl *client, args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		return printError(stderr, errors.New("vault takes no arguments"))
	}
	var out map[string]string
	if err := cl.get("/v1/vault", &out); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, out["escrow"])
	return 0
}

func runEvents(cl *client, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	cursor := fs.Int64("cursor", 0, "print records after this sequence")
	limit := fs.Int("limit", 100, "page size")
	follow := fs.Bool("follow", false, "stream new records over the websocket")
	if _, err := parseArgs(fs, args); err != nil {
		return 1
	}
	enc := json.NewEncoder(stdout)
	if !*follow {
		var page struct {
			Events []eventlog.Record `json:"events"`
		}
		path := fmt.Sprintf("/v1/events?cursor=%d&limit=%d", *cursor, *limit)
		if err := cl.get(path, &page); err != nil {
			return printError(stderr, err)
		}
		for _, rec := range page.Events {
			_ = enc.Encode(rec)
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	conn, _, err := websocket.Dial(ctx, cl.wsURL(fmt.Sprintf("/v1/events/ws?cursor=%d", *cursor)), nil)
	if err != nil {
		return printError(stderr, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return 0
			}
			return printError(stderr, err)
		}
		var rec eventlog.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return printError(stderr, err)
		}
		_ = enc.Encode(rec)
	}
}
