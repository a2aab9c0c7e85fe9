package main

import (
	"github.com/alecthomas/kong"

	"github.com/arjunm/securecloud/server"
)

type serveCmd struct {
	ListenAddr    string `arg:"" help:"The address to listen on, e.g. :9999."`
	DataRoot      string `arg:"" type:"path" help:"The directory under which each user's files are stored."`
	Cert          string `arg:"" type:"existingfile" help:"The server's X.509 certificate (PEM)."`
	Key           string `arg:"" type:"existingfile" help:"The server's unencrypted PEM (PKCS#1) private key."`
	PublicKeysDir string `arg:"" type:"existingdir" help:"The directory of registered users' public keys."`
}

func (cmd *serveCmd) Run(_ *kong.Context) error {
	ln, err := server.New(server.Config{
		ListenAddr:    cmd.ListenAddr,
		DataRoot:      cmd.DataRoot,
		CertPath:      cmd.Cert,
		KeyPath:       cmd.Key,
		PublicKeysDir: cmd.PublicKeysDir,
	})
	if err != nil {
		return err
	}

	return ln.Serve()
}
