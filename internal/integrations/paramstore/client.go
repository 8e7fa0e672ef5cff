// Package paramstore resolves the service credentials intellect needs: the
// news, LLM, speech, synthesis and avatar tokens.
//
// Every integration reads through Getter. In production the values live in
// AWS SSM Parameter Store (Client); on a developer machine they come from the
// process environment (Env). Chain layers the two so a parameter missing
// from SSM can still be supplied locally. Token defers the fetch until an
// integration first needs the credential and caches it afterwards.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// Getter resolves one named parameter. Implementations report a missing
// parameter with an error wrapping ErrNotFound.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ErrNotFound is returned when a parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads SecureString credentials from SSM, decrypting them.
type Client struct {
	api ssmAPI
}

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

	decrypt := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{Name: &name, WithDecryption: &decrypt})
	var notFound *types.ParameterNotFound
	switch {
	case errors.As(err, &notFound):
		return "", fmt.Errorf("paramstore: ssm %q: %w", name, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("paramstore: ssm %q: %w", name, err)
	case out == nil || out.Parameter == nil || out.Parameter.Value == nil:
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Chain asks each getter in order and returns the first value found. Only
// ErrNotFound moves on to the next source; any other failure is returned.
func Chain(getters ...Getter) Getter {
	return chain(getters)
}

type chain []Getter

func (c chain) GetParameter(ctx context.Context, name string) (string, error) {
	err := fmt.Errorf("paramstore: %q: %w", name, ErrNotFound)
	for _, g := range c {
		if g == nil {
			continue
		}
		v, gerr := g.GetParameter(ctx, name)
		if gerr == nil {
			return v, nil
		}
		if !errors.Is(gerr, ErrNotFound) {
			return "", gerr
		}
		err = gerr
	}
	return "", err
}
