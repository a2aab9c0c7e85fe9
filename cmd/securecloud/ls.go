package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

type lsCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
}

func (cmd *lsCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	names, err := sess.List()
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return sess.Logout()
}
