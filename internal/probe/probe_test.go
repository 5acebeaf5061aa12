package probe

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	ready bool
}

func (f *fakeChannel) Ready() bool { return f.ready }

func TestProbeAllUnavailable(t *testing.T) {
	p, err := New(Config{
		InternetEndpoint: "",
		InternetTimeout:  100 * time.Millisecond,
		RemoteDSN:        "",
		RemoteTimeout:    100 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	st := p.Probe(context.Background())
	assert.False(t, st.InternetOK)
	assert.False(t, st.DBOK)
	assert.False(t, st.ChannelOK)
}

func TestInternetCheckAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p, err := New(Config{
		InternetEndpoint: ln.Addr().String(),
		InternetTimeout:  time.Second,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	st := p.Probe(context.Background())
	assert.True(t, st.InternetOK)
}

func TestInternetCheckDialFailure(t *testing.T) {
	p, err := New(Config{
		InternetEndpoint: "198.51.100.1:9", // TEST-NET, never reachable
		InternetTimeout:  50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	p.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, stderrors.New("no route to host")
	}

	st := p.Probe(context.Background())
	assert.False(t, st.InternetOK)
}

func TestRemoteDBUnreachableIsFalseNotError(t *testing.T) {
	p, err := New(Config{
		RemoteDSN:     "postgres://probe@127.0.0.1:1/gym?sslmode=disable&connect_timeout=1",
		RemoteTimeout: 500 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	st := p.Probe(context.Background())
	assert.False(t, st.DBOK)
}

func TestChannelHealthDelegation(t *testing.T) {
	ch := &fakeChannel{ready: true}
	p, err := New(Config{}, ch)
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.Probe(context.Background()).ChannelOK)

	ch.ready = false
	assert.False(t, p.Probe(context.Background()).ChannelOK)
}

func TestChecksAreIndependent(t *testing.T) {
	// Channel is healthy even though internet and db are not.
	p, err := New(Config{
		InternetEndpoint: "",
		RemoteDSN:        "",
	}, &fakeChannel{ready: true})
	require.NoError(t, err)
	defer p.Close()

	st := p.Probe(context.Background())
	assert.False(t, st.InternetOK)
	assert.False(t, st.DBOK)
	assert.True(t, st.ChannelOK)
}
