package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(ips []string, err error) lookupFunc {
	return func(context.Context, string) ([]string, error) { return ips, err }
}

func testResolver(local lookupFunc, remote map[string]lookupFunc) *Resolver {
	servers := make([]string, 0, len(remote))
	for s := range remote {
		servers = append(servers, s)
	}
	return &Resolver{
		LocalTimeout:  100 * time.Millisecond,
		PublicTimeout: 200 * time.Millisecond,
		local:         local,
		servers:       servers,
		remote:        func(s string) lookupFunc { return remote[s] },
	}
}

func TestLookup_PrefersLocalIPv4(t *testing.T) {
	r := testResolver(fixed([]string{"2001:db8::1", "192.0.2.10"}, nil), nil)
	ip, err := r.Lookup(context.Background(), "call.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", ip)
}

func TestLookup_LiteralIP(t *testing.T) {
	r := testResolver(fixed(nil, errors.New("must not be called")), nil)
	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookup_FallsBackToPublic(t *testing.T) {
	r := testResolver(fixed(nil, errors.New("no such host")), map[string]lookupFunc{
		"a": fixed(nil, errors.New("refused")),
		"b": fixed([]string{"198.51.100.7"}, nil),
	})
	ip, err := r.Lookup(context.Background(), "call.example")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestLookup_AllFail(t *testing.T) {
	r := testResolver(fixed(nil, nil), map[string]lookupFunc{
		"a": fixed(nil, errors.New("refused")),
		"b": fixed([]string{}, nil),
	})
	_, err := r.Lookup(context.Background(), "call.example")
	assert.ErrorContains(t, err, "all 2 public DNS servers failed")
}

func TestLookup_PublicTimeout(t *testing.T) {
	slow := func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	r := testResolver(fixed(nil, errors.New("no such host")), map[string]lookupFunc{"a": slow})
	_, err := r.Lookup(context.Background(), "call.example")
	assert.ErrorContains(t, err, "timed out")
}
