package main

import (
	"github.com/alecthomas/kong"
)

type cli struct {
	Serve  serveCmd  `cmd:"" help:"Run a securecloud server."`
	Keygen keygenCmd `cmd:"" help:"Generate a server or client identity."`
	Login  loginCmd  `cmd:"" help:"Authenticate to a server and disconnect."`
	Ls     lsCmd     `cmd:"" help:"List files on a server."`
	Get    getCmd    `cmd:"" help:"Download a file from a server."`
	Put    putCmd    `cmd:"" help:"Upload a file to a server."`
	Mv     mvCmd     `cmd:"" help:"Rename a file on a server."`
	Rm     rmCmd     `cmd:"" help:"Delete a file on a server."`
}

func main() {
	var cli cli

	ctx := kong.Parse(&cli)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
