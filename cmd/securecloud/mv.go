package main

import (
	"github.com/alecthomas/kong"
)

type mvCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
	OldName  string `arg:"" help:"The remote file's current name."`
	NewName  string `arg:"" help:"The remote file's new name."`
}

func (cmd *mvCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	if err := sess.Rename(cmd.OldName, cmd.NewName); err != nil {
		return err
	}

	return sess.Logout()
}
