package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"

	"github.com/joseph-ayodele/nfe-ocr/internal/app"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/gauth"
)

// Authorizes the Drive tier as a user account and stores the token for nfed.
func main() {
	cfg := common.LoadConfig()
	creds := flag.String("credentials", cfg.Drive.CredentialsFile, "OAuth client secret file (installed app)")
	tokenFile := flag.String("token", cfg.Drive.TokenFile, "where to write the token")
	flag.Parse()

	logger := app.NewLogger(cfg.LogLevel)

	oc, err := gauth.OAuthConfig(gauth.Config{CredentialsFile: *creds, Scopes: []string{drive.DriveScope}})
	if err != nil {
		logger.Error("oauth config", "error", err)
		os.Exit(1)
	}
	if oc.RedirectURL == "" {
		oc.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}

	url := oc.AuthCodeURL("nfe-ocr", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Open this URL in a browser and paste the authorization code:\n\n%s\n\ncode: ", url)

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		logger.Error("read code", "error", err)
		os.Exit(1)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		fmt.Fprintln(os.Stderr, "no code given")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		logger.Error("token exchange", "error", err)
		os.Exit(1)
	}
	if err := gauth.SaveToken(*tokenFile, tok); err != nil {
		logger.Error("save token", "path", *tokenFile, "error", err)
		os.Exit(1)
	}
	logger.Info("gauth.token.saved", "token_file", *tokenFile)
	fmt.Printf("Token saved to %s. Set GOOGLE_DRIVE_USE_OAUTH=true to use it.\n", *tokenFile)
}
