// Package gauth builds Google API client options from either a service-account key
// or an installed-app OAuth client with a cached user token.
package gauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// ErrNoToken is returned in OAuth mode when the token file has not been created yet.
var ErrNoToken = errors.New("oauth token file not found; run nfe-oauth first")

type Config struct {
	CredentialsFile string
	UseOAuth        bool
	TokenFile       string
	Scopes          []string
}

// ClientOption returns an option.ClientOption carrying the resolved credentials.
func ClientOption(ctx context.Context, cfg Config, logger *slog.Logger) (option.ClientOption, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UseOAuth {
		ts, err := UserTokenSource(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return option.WithTokenSource(ts), nil
	}

	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "read service account key", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, b, cfg.Scopes...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "parse service account key", err)
	}
	logger.Info("gauth.service_account.ok", "project_id", creds.ProjectID)
	return option.WithCredentials(creds), nil
}

// OAuthConfig reads an installed-app client secret file.
func OAuthConfig(cfg Config) (*oauth2.Config, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "read oauth client file", err)
	}
	oc, err := google.ConfigFromJSON(b, cfg.Scopes...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "parse oauth client file", err)
	}
	return oc, nil
}

// UserTokenSource returns a refreshing token source that writes renewed tokens back to TokenFile.
func UserTokenSource(ctx context.Context, cfg Config, logger *slog.Logger) (oauth2.TokenSource, error) {
	oc, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	logger.Info("gauth.token.loaded", "token_file", cfg.TokenFile, "expired", !tok.Valid())
	return &savingTokenSource{
		base:   oc.TokenSource(ctx, tok),
		path:   cfg.TokenFile,
		last:   tok.AccessToken,
		logger: logger,
	}, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.NewAppError(common.CodeConfig, path, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("token dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("gauth.token.save_failed", "token_file", s.path, "error", err)
		} else {
			s.logger.Info("gauth.token.refreshed", "token_file", s.path)
		}
	}
	return tok, nil
}
