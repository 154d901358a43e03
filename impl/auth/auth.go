package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/config"
	log "github.com/sirupsen/logrus"
)

// provider formalizes the supported providers.
type provider int

// tokenGetter is a function that returns a token and an error.
type tokenGetter func(string) (string, error)

// Defined providers
const (
	unknownProvider provider = iota
	ecrProvider
)

const defaultExpiry = 12 * time.Hour

// providers converts a string to the typed provider.
var providers = map[string]provider{
	"ecr": ecrProvider,
}

// tokenProvider holds a token for one registry and refreshes it when it
// is older than the expiry. A run is short-lived so the refresh happens on
// demand rather than from a background goroutine.
type tokenProvider struct {
	sync.Mutex
	registry     string
	providerOpts string
	getter       tokenGetter
	lastTokenGet time.Time
	token        string
	expiry       time.Duration
}

var (
	// tokenProviders has a token provider for every registry that needed one,
	// keyed by registry name.
	tokenProviders   = make(map[string]*tokenProvider)
	tokenProvidersMu sync.Mutex
	// getTokenGetter is a var so tests can substitute the AWS call.
	getTokenGetter = tokenGetterFor
	now            = time.Now
)

// OptsFor returns the registry options for the passed registry with credentials
// filled in. If the registry is configured with a token provider then the token
// is obtained (or refreshed) and decoded into a user name and password.
func OptsFor(registry string) (config.RegistryOpts, error) {
	opts, err := config.ConfigFor(registry)
	if err != nil {
		return opts, err
	}
	if opts.Provider == "" {
		return opts, nil
	}
	tp, err := providerFor(registry, opts)
	if err != nil {
		return opts, err
	}
	token, err := tp.get()
	if err != nil {
		return opts, err
	}
	user, pass, err := decodeToken(token)
	if err != nil {
		return opts, fmt.Errorf("registry %s: %w", registry, err)
	}
	opts.Username, opts.Password = user, pass
	return opts, nil
}

// providerFor gets or creates the token provider for a registry.
func providerFor(registry string, opts config.RegistryOpts) (*tokenProvider, error) {
	tokenProvidersMu.Lock()
	defer tokenProvidersMu.Unlock()
	if tp, ok := tokenProviders[registry]; ok {
		return tp, nil
	}
	p, err := toProvider(opts.Provider)
	if err != nil {
		return nil, err
	}
	expiry := defaultExpiry
	if opts.ProviderExpiry != "" {
		if expiry, err = time.ParseDuration(opts.ProviderExpiry); err != nil {
			return nil, err
		}
	}
	getter, err := getTokenGetter(p)
	if err != nil {
		return nil, err
	}
	tp := &tokenProvider{
		registry:     registry,
		providerOpts: opts.ProviderOpts,
		getter:       getter,
		expiry:       expiry,
	}
	tokenProviders[registry] = tp
	return tp, nil
}

// get returns the current token, calling the getter if there is no token yet
// or the token has expired.
func (tp *tokenProvider) get() (string, error) {
	tp.Lock()
	defer tp.Unlock()
	if tp.token != "" && now().Sub(tp.lastTokenGet) < tp.expiry {
		return tp.token, nil
	}
	log.Debugf("getting new token for registry %q", tp.registry)
	token, err := tp.getter(tp.providerOpts)
	if err != nil {
		return "", fmt.Errorf("error getting token for registry %q: %w", tp.registry, err)
	}
	tp.token = token
	tp.lastTokenGet = now()
	return token, nil
}

// decodeToken splits a base64 "user:password" token.
func decodeToken(token string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("unable to decode token: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", fmt.Errorf("token is not in user:password form")
	}
	return user, pass, nil
}

// toProvider validates the passed provider string (like "ECR") and returns the matching
// provider type values.
func toProvider(providerStr string) (provider, error) {
	p, ok := providers[strings.ToLower(providerStr)]
	if !ok {
		return unknownProvider, fmt.Errorf("unknown provider: %s", providerStr)
	}
	return p, nil
}

// tokenGetterFor gets the token retrieval function for the passed provider.
func tokenGetterFor(p provider) (tokenGetter, error) {
	switch p {
	case ecrProvider:
		return getECRToken, nil
	}
	return nil, fmt.Errorf("unknown provider: %d", p)
}
