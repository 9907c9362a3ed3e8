package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Discovery errors.
var (
	ErrNotFound     = errors.New("no hub found")
	ErrInvalidQuery = errors.New("invalid discovery query")
)

// Query names the environment to connect to.
type Query struct {
	// Cluster is the discovery endpoint URL. Only HTTPResolver uses it.
	Cluster string `yaml:"cluster"`

	Org     string `yaml:"org"`
	Project string `yaml:"project"`
	Env     string `yaml:"env"`

	// Name selects the service within the env. Defaults to DefaultName.
	Name string `yaml:"name"`

	// Key selects a specific hub. OptionalKey lets the resolver fall back to
	// the default hub when no hub serves Key.
	Key         string `yaml:"key"`
	OptionalKey bool   `yaml:"optional_key"`
}

// DefaultName is the service name used when a Query leaves it empty.
const DefaultName = "@based/env-hub"

// Validate checks that the env coordinates are set.
func (q Query) Validate() error {
	var missing []string
	if q.Org == "" {
		missing = append(missing, "org")
	}
	if q.Project == "" {
		missing = append(missing, "project")
	}
	if q.Env == "" {
		missing = append(missing, "env")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidQuery, strings.Join(missing, ", "))
	}
	return nil
}

func (q Query) name() string {
	if q.Name == "" {
		return DefaultName
	}
	return q.Name
}

// String returns the lookup path of q.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Org)
	b.WriteByte('.')
	b.WriteString(q.Project)
	b.WriteByte('.')
	b.WriteString(q.Env)
	b.WriteByte('.')
	b.WriteString(q.name())
	if q.Key != "" {
		b.WriteByte('.')
		b.WriteString(q.Key)
		if q.OptionalKey {
			b.WriteByte('$')
		}
	}
	return b.String()
}

// Resolver turns a Query into a WebSocket URL.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, q Query) (string, error)

// Resolve calls f(ctx, q).
func (f ResolverFunc) Resolve(ctx context.Context, q Query) (string, error) {
	return f(ctx, q)
}

// Chain tries each resolver in order and returns the first URL found.
// Only ErrNotFound moves on to the next resolver.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, q Query) (string, error) {
	for _, r := range c {
		url, err := r.Resolve(ctx, q)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, q)
}

// wsURL turns a host or URL into a WebSocket URL.
func wsURL(hostOrURL string, secure bool, path string) string {
	switch {
	case strings.HasPrefix(hostOrURL, "ws://"), strings.HasPrefix(hostOrURL, "wss://"):
		return hostOrURL
	case strings.HasPrefix(hostOrURL, "https://"):
		return "wss://" + strings.TrimPrefix(hostOrURL, "https://")
	case strings.HasPrefix(hostOrURL, "http://"):
		return "ws://" + strings.TrimPrefix(hostOrURL, "http://")
	}
	scheme := "ws://"
	if secure {
		scheme = "wss://"
	}
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + hostOrURL + path
}

var (
	_ Resolver = ResolverFunc(nil)
	_ Resolver = Chain(nil)
)
