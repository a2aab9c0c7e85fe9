package main

import (
	"os"

	"github.com/alecthomas/kong"
)

type getCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
	Filename string `arg:"" help:"The remote file to download."`
	Output   string `arg:"" type:"path" help:"The local path to write the downloaded file to."`
}

func (cmd *getCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	dst, err := os.Create(cmd.Output)
	if err != nil {
		return err
	}

	defer func() { _ = dst.Close() }()

	if err := sess.Download(cmd.Filename, dst); err != nil {
		_ = dst.Close()
		_ = os.Remove(cmd.Output)

		return err
	}

	return sess.Logout()
}
