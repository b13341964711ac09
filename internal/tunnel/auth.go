package tunnel

import (
	"net"
	"os"

	"github.com/koustreak/querydeck/internal/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods returns the methods to offer in order: password, private
// key file, then the running agent. The client tries them in turn and
// stops at the first the server accepts. Sources that cannot be loaded are
// skipped. The returned func releases the agent connection.
func authMethods(opts Options, log *logger.Logger) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	release := func() {}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}

	if opts.KeyPath != "" {
		if signer, err := loadKey(opts.KeyPath); err != nil {
			log.Debugf("skipping key %s: %v", opts.KeyPath, err)
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if sock := opts.agentSocket(); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Debugf("skipping agent: %v", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			release = func() { _ = conn.Close() }
		}
	}

	return methods, release
}

func loadKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}
