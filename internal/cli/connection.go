package cli

import (
	"github.com/koustreak/querydeck/internal/config"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/spf13/cobra"
)

// inlineID names a connection described entirely by flags.
const inlineID = "cli"

// connFlags selects the connection a command runs against: either a saved
// profile (--conn) or an inline description (--engine, --host, ...).
type connFlags struct {
	profilesFile string
	profileID    string

	engine   string
	host     string
	port     uint16
	user     string
	password string
	database string

	sshHost     string
	sshPort     uint16
	sshUser     string
	sshPassword string
	sshKey      string
}

func (f *connFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.profilesFile, "connections", "", "connection profile file (default: connections_file from config)")
	fs.StringVarP(&f.profileID, "conn", "c", "", "profile id to use")

	fs.StringVar(&f.engine, "engine", "", "engine of an inline connection (mysql|postgres|clickhouse)")
	fs.StringVar(&f.host, "host", "", "database host")
	fs.Uint16Var(&f.port, "port", 0, "database port (default: engine default)")
	fs.StringVarP(&f.user, "user", "u", "", "database user")
	fs.StringVar(&f.password, "password", "", "database password")
	fs.StringVarP(&f.database, "database", "d", "", "database to open")

	fs.StringVar(&f.sshHost, "ssh-host", "", "SSH bastion host")
	fs.Uint16Var(&f.sshPort, "ssh-port", 0, "SSH bastion port (default 22)")
	fs.StringVar(&f.sshUser, "ssh-user", "", "SSH user")
	fs.StringVar(&f.sshPassword, "ssh-password", "", "SSH password")
	fs.StringVar(&f.sshKey, "ssh-key", "", "SSH private key file")
}

// profiles loads the profile file from the flag or the config.
func (f *connFlags) profiles(cfg *config.Config) (config.Profiles, error) {
	path := f.profilesFile
	if path == "" && cfg != nil {
		path = cfg.ConnectionsFile
	}
	if path == "" {
		return nil, errs.New(errs.ErrKindConfig, "no connection profile file configured (use --connections or connections_file)")
	}
	return config.LoadProfiles(path)
}

// resolve builds the ConnectionConfig the flags describe. Inline flags
// override the matching fields of a selected profile.
func (f *connFlags) resolve(cfg *config.Config) (*database.ConnectionConfig, error) {
	var conn *database.ConnectionConfig

	switch {
	case f.profileID != "":
		profiles, err := f.profiles(cfg)
		if err != nil {
			return nil, err
		}
		if conn, err = profiles.Find(f.profileID); err != nil {
			return nil, err
		}
	case f.host != "":
		conn = &database.ConnectionConfig{ID: inlineID, Name: inlineID}
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, "no connection given: use --conn <profile> or --engine and --host")
	}

	if f.engine != "" {
		e, err := database.ParseEngine(f.engine)
		if err != nil {
			return nil, err
		}
		conn.Engine = e
	}
	setString(&conn.Host, f.host)
	setString(&conn.User, f.user)
	setString(&conn.Password, f.password)
	setString(&conn.Database, f.database)
	if f.port != 0 {
		conn.Port = database.Port(f.port)
	}

	if f.sshHost != "" {
		conn.UseSSH = true
		conn.SSHHost = f.sshHost
	}
	setString(&conn.SSHUser, f.sshUser)
	setString(&conn.SSHPassword, f.sshPassword)
	setString(&conn.SSHKeyPath, f.sshKey)
	if f.sshPort != 0 {
		conn.SSHPort = database.Port(f.sshPort)
	}

	if conn.Port == 0 {
		conn.Port = conn.Engine.DefaultPort()
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return conn, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
