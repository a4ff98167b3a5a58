package paramstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotSet is returned when no source holds a value for the requested name.
var ErrNotSet = errors.New("paramstore: value not set")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the inference client) depend on this interface so the
// secret may come from the environment, SSM, or a test stub.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Static always resolves to the same value, ignoring the name. An empty
// value resolves to ErrNotSet.
type Static string

func (s Static) GetParameter(_ context.Context, _ string) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNotSet
	}
	return string(s), nil
}

// Env reads the named variable from the process environment.
type Env struct{}

func (Env) GetParameter(_ context.Context, name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotSet, name)
	}
	return v, nil
}

// Source binds a Getter to the parameter name it should be asked for.
type Source struct {
	Getter Getter
	Name   string
}

// Chain tries each source in order and returns the first value found.
// Sources reporting ErrNotSet are skipped; any other failure stops the
// chain.
type Chain []Source

func (c Chain) GetParameter(ctx context.Context, _ string) (string, error) {
	for _, src := range c {
		if src.Getter == nil {
			continue
		}
		v, err := src.Getter.GetParameter(ctx, src.Name)
		if errors.Is(err, ErrNotSet) {
			continue
		}
		if err != nil {
			return "", err
		}
		return v, nil
	}
	return "", ErrNotSet
}
