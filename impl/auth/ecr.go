package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

const ecrTimeout = 5 * time.Second

// getECRToken gets a token for Elastic Container Registry using the AWS SDK. The
// token is base64 "AWS:password".
func getECRToken(options string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ecrTimeout)
	defer cancel()

	opts, err := parseECROptions(options)
	if err != nil {
		return "", err
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", err
	}
	result, err := ecr.NewFromConfig(cfg).GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", err
	}
	for _, data := range result.AuthorizationData {
		if data.AuthorizationToken != nil {
			return *data.AuthorizationToken, nil
		}
	}
	return "", fmt.Errorf("no authorization token returned")
}

// parseECROptions parses provider options like "region=us-east-1,profile=dev".
func parseECROptions(options string) ([]func(*config.LoadOptions) error, error) {
	opts := []func(*config.LoadOptions) error{}
	if options == "" {
		return opts, nil
	}
	for _, opt := range strings.Split(options, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(opt), "=")
		if !ok {
			return nil, fmt.Errorf("unable to parse ecr option %q", opt)
		}
		switch strings.ToLower(key) {
		case "profile":
			opts = append(opts, config.WithSharedConfigProfile(val))
		case "region":
			opts = append(opts, config.WithRegion(strings.ToLower(val)))
		default:
			return nil, fmt.Errorf("unknown ecr option %q", key)
		}
	}
	return opts, nil
}
