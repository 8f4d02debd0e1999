package origin

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccept(t *testing.T) {
	v, err := NewValidator(DefaultPrefixes)
	require.NoError(t, err)

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"127.8.9.10:1", true},
		{"[::1]:8765", true},
		{"::1", true},
		{"100.101.102.103:40000", true},
		{"100.64.0.1:1", true},
		{"100.128.0.1:1", false},
		{"[fd7a:115c:a1e0::1]:8765", true},
		{"[fd7a:115c:a1e1::1]:8765", false},
		{"[::ffff:100.100.1.1]:80", true},
		{"8.8.8.8:53", false},
		{"192.168.1.20:9999", false},
		{"", false},
		{"not-an-ip:80", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Accept(tt.addr))
		})
	}
}

func TestLoopbackAlwaysAccepted(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)
	assert.True(t, v.Accept("127.0.0.1:1"))
	assert.True(t, v.Accept("[::1]:1"))
	assert.False(t, v.Accept("100.100.100.100:1"))
}

func TestBareAddressPrefix(t *testing.T) {
	v, err := NewValidator([]string{"192.168.1.20"})
	require.NoError(t, err)
	assert.True(t, v.Accept("192.168.1.20:443"))
	assert.False(t, v.Accept("192.168.1.21:443"))
}

func TestInvalidPrefix(t *testing.T) {
	_, err := NewValidator([]string{"100.64.0.0/99"})
	assert.Error(t, err)
	_, err = NewValidator([]string{"nonsense"})
	assert.Error(t, err)
}

func TestSetPrefixesSwapsLive(t *testing.T) {
	v, err := NewValidator([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.True(t, v.Accept("10.1.2.3:1"))

	require.NoError(t, v.SetPrefixes([]string{"172.16.0.0/12"}))
	assert.False(t, v.Accept("10.1.2.3:1"))
	assert.True(t, v.Accept("172.16.5.5:1"))

	assert.Error(t, v.SetPrefixes([]string{"bad/prefix"}))
	assert.True(t, v.Accept("172.16.5.5:1"), "failed swap must keep old prefixes")
}

func TestCheck(t *testing.T) {
	v, _ := NewValidator(nil)
	assert.NoError(t, v.Check("127.0.0.1:1"))
	assert.True(t, errors.Is(v.Check("8.8.8.8:1"), ErrUnknownOrigin))
}

// stubListener hands out pre-built conns with chosen remote addresses.
type stubListener struct {
	conns chan net.Conn
}

func (s *stubListener) Accept() (net.Conn, error) {
	c, ok := <-s.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}
func (s *stubListener) Close() error   { return nil }
func (s *stubListener) Addr() net.Addr { return &net.TCPAddr{} }

type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

func TestListenerDropsRejectedPeers(t *testing.T) {
	v, _ := NewValidator(nil)
	inner := &stubListener{conns: make(chan net.Conn, 2)}

	badServer, badClient := net.Pipe()
	goodServer, goodClient := net.Pipe()
	defer goodClient.Close()

	inner.conns <- addrConn{Conn: badServer, remote: &net.TCPAddr{IP: net.ParseIP("8.8.8.8"), Port: 1}}
	inner.conns <- addrConn{Conn: goodServer, remote: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}}

	l := NewListener(inner, v, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c, err := l.Accept()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", c.RemoteAddr().String())

	badClient.SetReadDeadline(time.Now().Add(time.Second))
	_, err = badClient.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "rejected peer should see its connection closed")
}
