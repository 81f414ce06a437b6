package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowledger/cmd/internal/secret"
	"escrowledger/crypto"
	"escrowledger/services/escrowd/auth"
)

const (
	secretEnv       = "ESCROWCTL_SECRET"
	defaultURL      = "http://localhost:8080"
	defaultIssuer   = "escrowctl"
	defaultAudience = "escrowd"
)

var (
	ctlNow    = time.Now
	ctlSecret = func() (string, error) { return secret.NewSource(secretEnv).Get() }
	ctlClient = http.DefaultClient
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "job":
		return runJob(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: escrowctl <command> [flags]",
		"",
		"Commands:",
		"  address <hex|bech32>                 print both encodings of an account",
		"  token -sub <addr> [-ttl 1h]           mint a bearer token (secret from " + secretEnv + " or prompt)",
		"  job [-url URL] -token TOKEN <id>      fetch a job from escrowd",
	}, "\n")
}

func printError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "address requires exactly one argument")
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "hex:    %s\nbech32: %s\n", crypto.HexAddress(addr), crypto.EncodeAddress(addr))
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		subject  string
		ttl      time.Duration
		issuer   string
		audience string
	)
	fs.StringVar(&subject, "sub", "", "account address the token authenticates")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	fs.StringVar(&issuer, "iss", defaultIssuer, "issuer claim")
	fs.StringVar(&audience, "aud", defaultAudience, "audience claim")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if strings.TrimSpace(subject) == "" {
		return printError(stderr, "-sub is required")
	}
	if ttl <= 0 {
		return printError(stderr, "-ttl must be positive")
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := ctlSecret()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := auth.Issue(auth.Config{
		Secret:   []byte(key),
		Issuer:   issuer,
		Audience: audience,
	}, addr, ttl, ctlNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runJob(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var baseURL, token string
	fs.StringVar(&baseURL, "url", defaultURL, "escrowd base URL")
	fs.StringVar(&token, "token", "", "bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(stderr, "job requires exactly one id")
	}
	id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		return printError(stderr, "id must be an unsigned integer")
	}
	if strings.TrimSpace(token) == "" {
		return printError(stderr, "-token is required")
	}
	body, status, err := get(strings.TrimRight(baseURL, "/")+"/v1/jobs/"+strconv.FormatUint(id, 10), token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if status != http.StatusOK {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			return printError(stderr, fmt.Sprintf("%s: %s", envelope.Error.Code, envelope.Error.Message))
		}
		return printError(stderr, fmt.Sprintf("escrowd returned %d", status))
	}
	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		return printError(stderr, fmt.Sprintf("decode response: %v", err))
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}

func get(url, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	resp, err := ctlClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
