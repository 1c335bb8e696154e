package main

import (
	"fmt"

	"github.com/codevn-dev/codevn-app-sub001/internal/config"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/services"

	"github.com/urfave/cli/v2"
)

// TokenCommand issues a token signed with the server secret, for local
// testing without the auth service.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a development JWT for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id to put in the subject claim",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := services.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL)
			tok, err := tokens.GenerateToken(c.String("user"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}
