package tunnel

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// startEcho runs a TCP server that echoes everything back.
func startEcho(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

type sshServer struct {
	addr *net.TCPAddr

	mu       sync.Mutex
	sessions int
}

func (s *sshServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// startSSH runs a minimal SSH server that accepts password "secret" and
// the given public key, and serves direct-tcpip channels.
func startSSH(t *testing.T, authorized ssh.PublicKey) *sshServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "secret" {
				return nil, nil
			}
			return nil, assert.AnError
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &sshServer{addr: ln.Addr().(*net.TCPAddr)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(c, cfg)
		}
	}()
	return srv
}

func (s *sshServer) handle(c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()
	conn, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var payload struct {
			Host       string
			Port       uint32
			OriginHost string
			OriginPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
		if err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			_ = target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			go func() {
				_, _ = io.Copy(target, ch)
				if tc, ok := target.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
			}()
			_, _ = io.Copy(ch, target)
		}()
	}
}

func baseOptions(srv *sshServer, echo *net.TCPAddr) Options {
	return Options{
		SSHHost:     "127.0.0.1",
		SSHPort:     uint16(srv.addr.Port),
		User:        "tester",
		AgentSocket: "-",
		RemoteHost:  "127.0.0.1",
		RemotePort:  uint16(echo.Port),
		DialTimeout: 5 * time.Second,
	}
}

func roundTrip(t *testing.T, addr, msg string) (string, error) {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return "", err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := c.Write([]byte(msg)); err != nil {
		return "", err
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(c, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func TestForwarder_Password(t *testing.T) {
	echo := startEcho(t)
	srv := startSSH(t, nil)

	opts := baseOptions(srv, echo)
	opts.Password = "secret"

	f, err := Start(t.Context(), opts, logger.Nop())
	require.NoError(t, err)
	defer f.Close()

	assert.NotZero(t, f.LocalPort())
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(int(f.LocalPort())), f.LocalAddr())

	got, err := roundTrip(t, f.LocalAddr(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", got)
}

func TestForwarder_SessionPerStream(t *testing.T) {
	echo := startEcho(t)
	srv := startSSH(t, nil)

	opts := baseOptions(srv, echo)
	opts.Password = "secret"

	f, err := Start(t.Context(), opts, nil)
	require.NoError(t, err)
	defer f.Close()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := "stream-" + strconv.Itoa(i)
			got, err := roundTrip(t, f.LocalAddr(), msg)
			assert.NoError(t, err)
			assert.Equal(t, msg, got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, srv.sessionCount())
}

func TestForwarder_KeyFileAfterWrongPassword(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	echo := startEcho(t)
	srv := startSSH(t, sshPub)

	opts := baseOptions(srv, echo)
	opts.Password = "wrong"
	opts.KeyPath = keyPath

	f, err := Start(t.Context(), opts, nil)
	require.NoError(t, err)
	defer f.Close()

	got, err := roundTrip(t, f.LocalAddr(), "key")
	require.NoError(t, err)
	assert.Equal(t, "key", got)
}

func TestForwarder_AuthFailureKeepsListening(t *testing.T) {
	echo := startEcho(t)
	srv := startSSH(t, nil)

	opts := baseOptions(srv, echo)
	opts.Password = "wrong"
	opts.KeyPath = filepath.Join(t.TempDir(), "missing")

	f, err := Start(t.Context(), opts, nil)
	require.NoError(t, err)
	defer f.Close()

	for range 2 {
		_, err := roundTrip(t, f.LocalAddr(), "x")
		assert.Error(t, err)
	}
	assert.Zero(t, srv.sessionCount())
}

func TestForwarder_Close(t *testing.T) {
	echo := startEcho(t)
	srv := startSSH(t, nil)

	opts := baseOptions(srv, echo)
	opts.Password = "secret"

	f, err := Start(t.Context(), opts, nil)
	require.NoError(t, err)
	addr := f.LocalAddr()

	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestStart_Validation(t *testing.T) {
	_, err := Start(t.Context(), Options{User: "u"}, nil)
	assert.True(t, errs.IsSSH(err))

	_, err = Start(t.Context(), Options{SSHHost: "bastion"}, nil)
	assert.True(t, errs.IsSSH(err))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &database.ConnectionConfig{
		Host: "10.0.0.5", Port: 5432,
		UseSSH: true, SSHHost: "bastion", SSHUser: "ops", SSHPassword: "pw", SSHKeyPath: "/k",
	}
	opts := OptionsFromConfig(cfg, 5432)

	assert.Equal(t, "bastion:22", opts.bastionAddr())
	assert.Equal(t, "10.0.0.5:5432", opts.remoteAddr())
	assert.Equal(t, "ops", opts.User)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, "/k", opts.KeyPath)

	cfg.SSHPort = 2222
	assert.Equal(t, "bastion:2222", OptionsFromConfig(cfg, 5432).bastionAddr())
}
