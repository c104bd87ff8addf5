// providers.go builds the provider roster from config.Config.Providers,
// using whichever credential source is wireable without inventing a
// fake one. Only KeyShareProvider (S3) can be constructed from a bare CLI
// invocation, since aws-sdk-go-v2/config.LoadDefaultConfig walks the real
// environment/shared-config credential chain; CapMap (OAuth token source)
// and WebDAV (azcore.TokenCredential) need an interactive login this
// binary does not perform, so they are reported as unconfigured instead
// of stubbed.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mokuroreader/corestore/config"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/provider"
	"github.com/pkg/errors"
)

// buildProviders constructs every provider config.Config names that this
// binary knows how to authenticate non-interactively. Unwireable entries
// are skipped with a warning rather than failing the whole command, so
// `mokorectl catalog list` still works against whichever providers are
// usable.
func buildProviders(ctx context.Context, cfg *config.Config) map[string]provider.Provider {
	out := map[string]provider.Provider{}
	for _, pc := range cfg.Providers {
		p, err := buildOneProvider(ctx, pc)
		if err != nil {
			corelog.Warnf("mokorectl: provider %q unavailable: %v", pc.Name, err)
			continue
		}
		out[pc.Name] = p
	}
	return out
}

func buildOneProvider(ctx context.Context, pc config.ProviderConfig) (provider.Provider, error) {
	// The credentials_path convention distinguishes an S3 bucket config
	// ("s3://bucket") from the OAuth/Azure providers this binary cannot
	// authenticate headlessly.
	bucket, ok := s3BucketFromCredentialsPath(pc.CredentialsPath)
	if !ok {
		return nil, errors.Errorf("no non-interactive credential path for provider kind of %q (needs browser OAuth or Azure identity)", pc.Name)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	client := s3.NewFromConfig(awsCfg)
	return provider.NewKeyShareProvider(pc.Name, bucket, client), nil
}

func s3BucketFromCredentialsPath(path string) (string, bool) {
	const prefix = "s3://"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return "", false
	}
	return path[len(prefix):], true
}
