// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Drawbridge-credentials is the operator CLI for the gateway's
// credential vault. It talks to the daemon's admin socket, which is
// never exposed to command-submitting clients.
//
// Field values are read from stdin (key=value lines) rather than
// flags so secrets stay out of shell history and process listings.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/lib/version"
	"github.com/drawbridge-labs/drawbridge/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}
	switch os.Args[1] {
	case "put":
		return runPut(os.Args[2:])
	case "delete":
		return runDelete(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "export":
		return runExport(os.Args[2:])
	case "keygen":
		return runKeygen()
	case "version":
		fmt.Printf("drawbridge-credentials %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: drawbridge-credentials <subcommand> [flags]

Subcommands:
  put <integration>     Store credentials (field values from stdin, key=value per line)
  delete <integration>  Delete stored credentials
  list                  List integrations with stored credentials
  export                Export the encrypted credential bundle to a file
  keygen                Generate an age keypair for export escrow
  version               Print version

Common flags:
  --admin-socket  Path to the gateway admin socket (default /run/drawbridge/admin.sock)
  --token-file    Path to the admin token file, or "-" for stdin
`)
}

// adminConn carries everything a subcommand needs to call the admin
// API.
type adminConn struct {
	client *http.Client
	token  *secret.Buffer
}

func adminFlags(flagSet *flag.FlagSet) (socket, tokenFile *string) {
	socket = flagSet.String("admin-socket", "/run/drawbridge/admin.sock", "gateway admin socket")
	tokenFile = flagSet.String("token-file", "", "admin token file (required)")
	return socket, tokenFile
}

func dialAdmin(socket, tokenFile string) (*adminConn, error) {
	if tokenFile == "" {
		return nil, fmt.Errorf("--token-file is required")
	}
	token, err := secret.ReadFromPath(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading admin token: %w", err)
	}
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
	return &adminConn{client: client, token: token}, nil
}

func (c *adminConn) close() {
	c.token.Close()
}

// do sends one admin request and decodes the JSON response. A non-2xx
// status becomes an error carrying the server's message.
func (c *adminConn) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://drawbridge"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway admin socket: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("gateway: %s", failure.Error)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// readFields parses key=value lines from stdin until EOF. Blank lines
// and #-comments are skipped.
func readFields(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed field line (want key=value)")
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

func runPut(args []string) error {
	flagSet := flag.NewFlagSet("put", flag.ContinueOnError)
	socket, tokenFile := adminFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: put <integration> (fields on stdin, key=value per line)")
	}
	integration := flagSet.Arg(0)

	fmt.Fprintf(os.Stderr, "Enter fields for %s as key=value lines, then EOF:\n", integration)
	fields, err := readFields(os.Stdin)
	if err != nil {
		return err
	}

	conn, err := dialAdmin(*socket, *tokenFile)
	if err != nil {
		return err
	}
	defer conn.close()

	var result struct {
		Integration string `json:"integration"`
		Version     int64  `json:"version"`
	}
	if err := conn.do(http.MethodPut, "/v1/credentials/"+integration, fields, &result); err != nil {
		return err
	}
	fmt.Printf("stored %s at version %d\n", result.Integration, result.Version)
	return nil
}

func runDelete(args []string) error {
	flagSet := flag.NewFlagSet("delete", flag.ContinueOnError)
	socket, tokenFile := adminFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: delete <integration>")
	}
	integration := flagSet.Arg(0)

	conn, err := dialAdmin(*socket, *tokenFile)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := conn.do(http.MethodDelete, "/v1/credentials/"+integration, nil, nil); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", integration)
	return nil
}

func runList(args []string) error {
	flagSet := flag.NewFlagSet("list", flag.ContinueOnError)
	socket, tokenFile := adminFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	conn, err := dialAdmin(*socket, *tokenFile)
	if err != nil {
		return err
	}
	defer conn.close()

	var result struct {
		Credentials []vault.Info `json:"credentials"`
	}
	if err := conn.do(http.MethodGet, "/v1/credentials", nil, &result); err != nil {
		return err
	}
	if len(result.Credentials) == 0 {
		fmt.Println("no credentials stored")
		return nil
	}
	for _, info := range result.Credentials {
		fmt.Printf("%-14s version %-4d updated %s\n",
			info.Integration, info.Version, time.Unix(info.UpdatedAt, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

func runExport(args []string) error {
	flagSet := flag.NewFlagSet("export", flag.ContinueOnError)
	socket, tokenFile := adminFlags(flagSet)
	var recipients stringList
	flagSet.Var(&recipients, "recipient", "age recipient to encrypt to (repeatable, required)")
	output := flagSet.String("output", "", "output file for the encrypted bundle (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if len(recipients) == 0 || *output == "" {
		return fmt.Errorf("usage: export --recipient age1... --output bundle.age")
	}

	conn, err := dialAdmin(*socket, *tokenFile)
	if err != nil {
		return err
	}
	defer conn.close()

	var result struct {
		Bundle string `json:"bundle"`
	}
	if err := conn.do(http.MethodPost, "/v1/credentials/export", map[string]any{"recipients": []string(recipients)}, &result); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(result.Bundle)
	if err != nil {
		return fmt.Errorf("decoding bundle: %w", err)
	}
	if err := os.WriteFile(*output, raw, 0600); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	fmt.Printf("wrote encrypted bundle to %s (%d bytes)\n", *output, len(raw))
	return nil
}

func runKeygen() error {
	recipient, identityKey, err := vault.GenerateEscrowIdentity()
	if err != nil {
		return err
	}
	// Identity to stdout for redirection into cold storage, the
	// public recipient to stderr for immediate use.
	fmt.Fprintf(os.Stderr, "recipient: %s\n", recipient)
	fmt.Println(identityKey)
	return nil
}

// stringList collects repeated flag values.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}
