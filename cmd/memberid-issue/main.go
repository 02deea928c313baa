package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	memberid "github.com/bionicotaku/lingo-utils-memberid"
	"github.com/bionicotaku/lingo-utils-memberid/internal/envfile"
)

type output struct {
	Type      string `json:"type"`
	QR        string `json:"qr"`
	IssuedAt  uint64 `json:"iat"`
	ExpiresAt uint64 `json:"exp"`
	Semester  string `json:"semester,omitempty"`
	Label     string `json:"semester_label,omitempty"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	envPath := envfile.DefaultPath()
	if err := envfile.Load(envPath); err != nil {
		logger.Warn("load env file", slog.String("path", envPath), slog.Any("error", err))
	}

	configPath := flag.String("config", os.Getenv("MEMBERID_CONFIG"), "YAML config file (env MEMBERID_CONFIG)")
	envFlag := flag.String("env", envPath, "Path to .env file")
	token := flag.String("token", "", "Upstream bearer token (env MEMBERID_TOKEN); fetched via password grant when empty")
	typeFlag := flag.String("type", "a", "Credential type: a (app), wi (Apple Wallet), wa (Android Wallet)")
	publicKey := flag.Bool("public-key", false, "Print the verifying key derived from the signing secret and exit")
	dev := flag.Bool("dev", false, "Skip token verification and issue for a local dev identity")
	devName := flag.String("dev-name", "Dev", "Display name used with -dev")
	tokenURL := flag.String("token-url", "", "OAuth2 token endpoint (env OIDC_TOKEN_URL)")
	clientID := flag.String("client-id", "", "OAuth2 client id (env OIDC_CLIENT_ID)")
	clientSecret := flag.String("client-secret", "", "OAuth2 client secret (env OIDC_CLIENT_SECRET)")
	username := flag.String("username", "", "Member username (env MEMBERID_USERNAME)")
	password := flag.String("password", "", "Member password (env MEMBERID_PASSWORD)")
	useIDToken := flag.Bool("id-token", false, "Send the id_token instead of the access token")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall timeout")
	flag.Parse()

	if *envFlag != "" && *envFlag != envPath {
		if err := envfile.Load(*envFlag); err != nil {
			logger.Warn("load env file", slog.String("path", *envFlag), slog.Any("error", err))
		}
	}
	fallback(token, "MEMBERID_TOKEN")
	fallback(tokenURL, "OIDC_TOKEN_URL")
	fallback(clientID, "OIDC_CLIENT_ID")
	fallback(clientSecret, "OIDC_CLIENT_SECRET")
	fallback(username, "MEMBERID_USERNAME")
	fallback(password, "MEMBERID_PASSWORD")

	cfg, err := memberid.LoadConfig(*configPath)
	if err != nil {
		fatal(logger, "load config", err)
	}

	if *publicKey {
		hexKey, err := memberid.DerivePublicKey(cfg)
		if err != nil {
			fatal(logger, "derive public key", err)
		}
		fmt.Println(hexKey)
		return
	}

	tag := memberid.TypeTag(strings.TrimSpace(*typeFlag))
	if !tag.Valid() {
		flag.Usage()
		fatal(logger, "invalid -type", fmt.Errorf("%q is not one of a, wi, wa", *typeFlag))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := []memberid.IssuerOption{memberid.WithLogger(logger)}
	if *dev {
		logger.Warn("dev mode: upstream token verification is disabled")
		opts = append(opts, memberid.WithVerifier(memberid.NewDevVerifier(memberid.Claims{GivenName: *devName}, cfg.MembershipGroup)))
		if *token == "" {
			*token = "dev"
		}
		// The dev verifier never contacts the key set.
		if cfg.JWKSURL == "" {
			cfg.JWKSURL = "http://dev.invalid"
		}
		if cfg.Audience == "" {
			cfg.Audience = "dev"
		}
	}

	if *token == "" {
		if *tokenURL == "" || *username == "" || *password == "" {
			flag.Usage()
			fatal(logger, "missing credentials", fmt.Errorf("token-url, username and password are required when no token is given"))
		}
		provider := memberid.NewProvider(memberid.ProviderConfig{
			TokenURL:     *tokenURL,
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
			Scopes:       []string{"openid", "profile"},
			IDToken:      *useIDToken,
		})
		tok, err := provider.Token(ctx, *username, *password)
		if err != nil {
			fatal(logger, "obtain upstream token", err)
		}
		*token = tok
		logger.Info("acquired upstream token via password grant", slog.String("username", *username))
	}

	issuer, err := memberid.NewIssuer(cfg, nil, opts...)
	if err != nil {
		fatal(logger, "create issuer", err)
	}

	out := output{Type: tag.String()}
	var cred memberid.Credential
	if tag.Wallet() {
		var sem memberid.Semester
		cred, sem, err = issuer.IssueWallet(ctx, *token, tag)
		out.Semester = sem.LongLabel
		out.Label = sem.Label
	} else {
		cred, err = issuer.IssueApp(ctx, *token)
	}
	if err != nil {
		fatal(logger, memberid.PublicMessage(err), err)
	}
	out.QR, out.IssuedAt, out.ExpiresAt = cred.QR, cred.IssuedAt, cred.ExpiresAt

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(logger, "write output", err)
	}
}

func fallback(v *string, key string) {
	if *v == "" {
		*v = os.Getenv(key)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg,
		slog.String("code", string(memberid.CodeOf(err))),
		slog.Any("error", err),
	)
	os.Exit(1)
}
