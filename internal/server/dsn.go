package server

import "fmt"

// ConnectOptions holds the connection parameters the CLI front-ends
// (cmd/mydumper, cmd/myloader) gather from mybase.Config, supporting
// either a host:port or a UNIX socket path.
type ConnectOptions struct {
	Host       string
	Port       int
	SocketPath string
	User       string
	Password   string
}

// DSN renders the "user:pass@tcp(host:port)/" or "user:pass@unix(path)/"
// driver DSN NewInstance expects.
func (o ConnectOptions) DSN() string {
	var userAndPass string
	if o.Password == "" {
		userAndPass = o.User
	} else {
		userAndPass = fmt.Sprintf("%s:%s", o.User, o.Password)
	}
	if o.SocketPath != "" {
		return fmt.Sprintf("%s@unix(%s)/", userAndPass, o.SocketPath)
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/", userAndPass, o.Host, port)
}
