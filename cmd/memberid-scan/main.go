package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	memberid "github.com/bionicotaku/lingo-utils-memberid"
	"github.com/bionicotaku/lingo-utils-memberid/internal/envfile"
)

type scanOutput struct {
	Subject   string              `json:"sub"`
	Name      string              `json:"name"`
	Type      string              `json:"type"`
	IssuedAt  string              `json:"issued_at"`
	ExpiresAt string              `json:"expires_at"`
	Debug     *memberid.ScanDebug `json:"debug,omitempty"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	envPath := envfile.DefaultPath()
	if err := envfile.Load(envPath); err != nil {
		logger.Warn("load env file", slog.String("path", envPath), slog.Any("error", err))
	}

	publicKey := flag.String("public-key", os.Getenv("MEMBERID_PUBLIC_KEY"), "Verifying key, 130 hex characters (env MEMBERID_PUBLIC_KEY); derived from QR_PRIVATE_KEY_HEX when empty")
	onlyApp := flag.Bool("only-app", false, "Reject wallet credentials")
	strict := flag.Bool("strict", false, "Reject future-issued, overlong and stale credentials")
	debug := flag.Bool("debug", false, "Include decoding sizes in the output")
	flag.Parse()

	code := strings.Join(flag.Args(), " ")
	if code == "" || code == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal(logger, "read stdin", err)
		}
		code = string(raw)
	}
	if strings.TrimSpace(code) == "" {
		flag.Usage()
		fatal(logger, "missing scan string", errors.New("pass the scan string as an argument or on stdin"))
	}

	if *publicKey == "" {
		derived, err := memberid.DerivePublicKey(memberid.Config{SigningKeyHex: os.Getenv(memberid.EnvSigningKey)})
		if err != nil {
			fatal(logger, "no verifying key", err)
		}
		*publicKey = derived
	}

	verifier, err := memberid.NewScanVerifier(*publicKey, memberid.ScanOptions{OnlyApp: *onlyApp, Strict: *strict})
	if err != nil {
		fatal(logger, "parse public key", err)
	}
	res, err := verifier.Verify(code)
	if err != nil {
		fatal(logger, "credential rejected", err)
	}

	out := scanOutput{
		Subject:   res.Payload.Subject,
		Name:      res.Payload.Name,
		Type:      res.Payload.Type.String(),
		IssuedAt:  unixTime(res.Payload.IssuedAt),
		ExpiresAt: unixTime(res.Payload.ExpiresAt),
	}
	if *debug {
		out.Debug = &res.Debug
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(logger, "write output", err)
	}
}

func unixTime(sec uint64) string {
	if sec > uint64(1<<62) {
		return fmt.Sprintf("%d", sec)
	}
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg,
		slog.String("code", string(memberid.CodeOf(err))),
		slog.Any("error", err),
	)
	os.Exit(1)
}
