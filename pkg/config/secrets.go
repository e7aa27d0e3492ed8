package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretFetcher is the part of the Secrets Manager client used here.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Credentials are the resolved provider credentials. Empty fields mean the
// credential could not be obtained.
type Credentials struct {
	OpenAIKey string
	// GoogleJSON is service-account material fetched from a secret. It must
	// be written to disk before the Google client can use it.
	GoogleJSON []byte
	// GoogleFile is a credentials file already on disk.
	GoogleFile string
}

// ResolveCredentials fetches each configured secret independently. When an
// ARN is unset the direct environment value is used instead. A failure for
// one credential leaves the other intact; all failures are joined into the
// returned error.
func ResolveCredentials(ctx context.Context, cfg Config, fetcher SecretFetcher) (Credentials, error) {
	var (
		creds Credentials
		errs  []error
	)

	if cfg.OpenAISecretARN != "" && fetcher != nil {
		v, err := fetchSecret(ctx, fetcher, cfg.OpenAISecretARN)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: openai secret: %w", err))
		}
		creds.OpenAIKey = v
	}
	if creds.OpenAIKey == "" {
		creds.OpenAIKey = cfg.OpenAIAPIKey
	}

	if cfg.GoogleSecretARN != "" && fetcher != nil {
		v, err := fetchSecret(ctx, fetcher, cfg.GoogleSecretARN)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: google secret: %w", err))
		}
		if v != "" {
			creds.GoogleJSON = []byte(v)
		}
	}
	if creds.GoogleJSON == nil && cfg.GoogleAPIKey != "" {
		path, err := filepath.Abs(cfg.GoogleAPIKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: google credentials path: %w", err))
		} else if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("config: google credentials file: %w", err))
		} else {
			creds.GoogleFile = path
		}
	}

	return creds, errors.Join(errs...)
}

func fetchSecret(ctx context.Context, fetcher SecretFetcher, arn string) (string, error) {
	out, err := fetcher.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(arn)})
	if err != nil {
		return "", err
	}
	v := aws.ToString(out.SecretString)
	if v == "" {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}
	return v, nil
}

// WriteCredentialsFile writes data to path readable only by the owner.
func WriteCredentialsFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: write credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write credentials: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("config: write credentials: %w", err)
	}
	return nil
}
