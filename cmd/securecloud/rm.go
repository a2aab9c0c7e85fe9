package main

import (
	"github.com/alecthomas/kong"
)

type rmCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
	Filename string `arg:"" help:"The remote file to delete."`

	Yes bool `help:"Confirm the deletion without prompting." default:"false"`
}

func (cmd *rmCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	if err := sess.Delete(cmd.Filename, cmd.Yes); err != nil {
		return err
	}

	return sess.Logout()
}
