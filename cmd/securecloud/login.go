package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

type loginCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
}

func (cmd *loginCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	_, _ = fmt.Fprintf(os.Stderr, "authenticated as %s\n", cmd.Username)

	return sess.Logout()
}
