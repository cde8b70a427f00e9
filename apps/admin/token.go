package main

import (
	"fmt"

	echoapi "github.com/Incrisz/school-nextjs-sub002/apps/api/echo"
	"github.com/Incrisz/school-nextjs-sub002/core"
)

// token prints a signed API token for actor, valid for the configured JWT expiration delta.
func (cli *commandLine) token(actor core.Actor) error {
	token, err := echoapi.GenerateToken(echoapi.NewClaims(actor, cli.conf), cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
