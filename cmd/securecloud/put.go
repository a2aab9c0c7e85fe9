package main

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
)

type putCmd struct {
	Server   string `arg:"" help:"The server's address, e.g. host:9999."`
	Username string `arg:"" help:"The username to authenticate as."`
	Identity string `arg:"" type:"existingfile" help:"The path to the encrypted private key."`
	CACert   string `arg:"" type:"existingfile" help:"The path to the server's trusted CA bundle."`
	Input    string `arg:"" type:"existingfile" help:"The local file to upload."`

	Filename string `help:"The remote name to upload as; defaults to the input file's base name."`
}

func (cmd *putCmd) Run(_ *kong.Context) error {
	sess, err := dial(cmd.Server, cmd.Username, cmd.Identity, cmd.CACert)
	if err != nil {
		return err
	}

	defer func() { _ = sess.Close() }()

	src, err := os.Open(cmd.Input)
	if err != nil {
		return err
	}

	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	name := cmd.Filename
	if name == "" {
		name = filepath.Base(cmd.Input)
	}

	if err := sess.Upload(name, uint64(info.Size()), src); err != nil {
		return err
	}

	return sess.Logout()
}
