// Package tunnel forwards local TCP connections to a database host through
// an SSH bastion.
//
// A Forwarder listens on an OS-assigned loopback port. Every accepted
// connection gets its own SSH client and direct-tcpip channel, so streams
// never share session state. Authentication or dial failures drop only the
// affected connection; the listener keeps accepting until Close.
package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 15 * time.Second
)

// Options describes the bastion and the target behind it.
type Options struct {
	SSHHost  string
	SSHPort  uint16
	User     string
	Password string
	KeyPath  string

	// AgentSocket overrides SSH_AUTH_SOCK. Set it to "-" to disable
	// agent authentication.
	AgentSocket string

	RemoteHost string
	RemotePort uint16

	// HostKeyCallback verifies the bastion. Nil accepts any host key.
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
}

// OptionsFromConfig builds tunnel options for the database host in cfg.
func OptionsFromConfig(cfg *database.ConnectionConfig, remotePort uint16) Options {
	return Options{
		SSHHost:    cfg.SSHHost,
		SSHPort:    uint16(cfg.SSHPort),
		User:       cfg.SSHUser,
		Password:   cfg.SSHPassword,
		KeyPath:    cfg.SSHKeyPath,
		RemoteHost: cfg.Host,
		RemotePort: remotePort,
	}
}

func (o Options) agentSocket() string {
	switch o.AgentSocket {
	case "-":
		return ""
	case "":
		return os.Getenv("SSH_AUTH_SOCK")
	}
	return o.AgentSocket
}

func (o Options) bastionAddr() string {
	port := o.SSHPort
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(o.SSHHost, strconv.Itoa(int(port)))
}

func (o Options) remoteAddr() string {
	return net.JoinHostPort(o.RemoteHost, strconv.Itoa(int(o.RemotePort)))
}

// Forwarder is a running tunnel. Close stops it.
type Forwarder struct {
	opts     Options
	hostKey  ssh.HostKeyCallback
	listener net.Listener
	log      *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Start binds 127.0.0.1:0 and begins accepting connections. No SSH traffic
// happens until the first local connection arrives.
func Start(ctx context.Context, opts Options, log *logger.Logger) (*Forwarder, error) {
	if opts.SSHHost == "" {
		return nil, errs.New(errs.ErrKindSSH, "missing SSH host")
	}
	if opts.User == "" {
		return nil, errs.New(errs.ErrKindSSH, "missing SSH user")
	}
	if log == nil {
		log = logger.Nop()
	}

	hostKey := opts.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // bastions are configured by the user
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "failed to bind local tunnel port", err)
	}

	f := &Forwarder{
		opts:     opts,
		hostKey:  hostKey,
		listener: ln,
		log: log.With().
			Str("component", "tunnel").
			Str("bastion", opts.bastionAddr()).
			Str("remote", opts.remoteAddr()).
			Logger(),
		done: make(chan struct{}),
	}

	f.wg.Add(1)
	go f.acceptLoop()

	f.log.Infof("tunnel listening on %s", ln.Addr())
	return f, nil
}

// LocalPort is the loopback port clients should connect to.
func (f *Forwarder) LocalPort() uint16 {
	return uint16(f.listener.Addr().(*net.TCPAddr).Port)
}

// LocalAddr is "127.0.0.1:<LocalPort>".
func (f *Forwarder) LocalAddr() string {
	return f.listener.Addr().String()
}

// Close stops accepting new connections. Streams already forwarding are
// left to finish on their own.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.listener.Close()
		f.wg.Wait()
		f.log.Info("tunnel stopped")
	})
	return err
}

func (f *Forwarder) acceptLoop() {
	defer f.wg.Done()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			f.log.Errorf("accept failed: %v", err)
			continue
		}
		go f.serve(conn)
	}
}

// serve forwards one local connection over a fresh SSH client.
func (f *Forwarder) serve(local net.Conn) {
	defer local.Close()

	auth, release := authMethods(f.opts, f.log)
	defer release()
	if len(auth) == 0 {
		f.log.Error("no usable SSH authentication method")
		return
	}

	client, err := ssh.Dial("tcp", f.opts.bastionAddr(), &ssh.ClientConfig{
		User:            f.opts.User,
		Auth:            auth,
		HostKeyCallback: f.hostKey,
		Timeout:         database.WithDefault(f.opts.DialTimeout, defaultDialTimeout),
	})
	if err != nil {
		f.log.ErrorWith("ssh connect failed", err, nil)
		return
	}
	defer client.Close()

	remote, err := client.Dial("tcp", f.opts.remoteAddr())
	if err != nil {
		f.log.ErrorWith("failed to open direct-tcpip channel", err, nil)
		return
	}
	defer remote.Close()

	if err := pipe(local, remote); err != nil {
		f.log.Debugf("stream ended: %v", err)
	}
}

// pipe copies in both directions until both sides are done. When one
// direction reaches EOF the write half of the other side is closed so the
// peer sees it.
func pipe(a, b net.Conn) error {
	var g errgroup.Group
	g.Go(func() error { return copyHalf(b, a) })
	g.Go(func() error { return copyHalf(a, b) })
	return g.Wait()
}

type closeWriter interface {
	CloseWrite() error
}

func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
