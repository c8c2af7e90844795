package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Programmerfd54/rocket-shelduer-sub002/client"
	"github.com/urfave/cli/v3"
)

var defaultFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "host",
		Usage:   "The host to connect to",
		Value:   "http://localhost:1984",
		Sources: cli.EnvVars("SHELDUER_HOST"),
	},
	&cli.StringFlag{
		Name:    "session-id",
		Usage:   "The session id to use",
		Value:   "",
		Sources: cli.EnvVars("SHELDUER_SESSION_ID"),
	},
}

func withDefaultFlags(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, defaultFlags...), flags...)
}

func sessionClient(c *cli.Command) (*client.Client, error) {
	ocClient := client.NewClient(c.String("host"))
	sessionId := c.String("session-id")
	if sessionId == "" {
		return nil, fmt.Errorf("session id is required, run 'client login' first")
	}
	ocClient.SetSessionId(sessionId)
	return ocClient, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ClientCli() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "talk to a running server",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and print the session id",
				Flags: withDefaultFlags(
					&cli.StringFlag{
						Name:     "email",
						Usage:    "The email to use",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Usage:    "The password to use",
						Sources:  cli.EnvVars("SHELDUER_PASSWORD"),
						Required: true,
					},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					ocClient := client.NewClient(c.String("host"))
					sessionId, err := ocClient.LoginUser(ctx, c.String("email"), c.String("password"))
					if err != nil {
						return err
					}
					fmt.Println(sessionId)
					return nil
				},
			},
			{
				Name:  "dispatch",
				Usage: "Run a dispatch tick now",
				Flags: []cli.Flag{
					defaultFlags[0],
					&cli.StringFlag{
						Name:     "secret",
						Usage:    "The dispatch bearer secret",
						Sources:  cli.EnvVars("DISPATCH_SECRET"),
						Required: true,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					ocClient := client.NewClient(c.String("host"))
					result, err := ocClient.RunDispatch(ctx, c.String("secret"))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "retry",
				Usage:     "Retry a failed message",
				ArgsUsage: "<message-uuid>",
				Flags:     withDefaultFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one message uuid")
					}
					ocClient, err := sessionClient(c)
					if err != nil {
						return err
					}
					msg, err := ocClient.RetryMessage(ctx, c.Args().First())
					if err != nil {
						return err
					}
					return printJSON(msg)
				},
			},
			{
				Name:  "messages",
				Usage: "List scheduled messages",
				Flags: withDefaultFlags(
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only list messages with this status",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "List messages of every user",
					},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					ocClient, err := sessionClient(c)
					if err != nil {
						return err
					}
					msgs, err := ocClient.ListMessages(ctx, c.String("status"), c.Bool("all"))
					if err != nil {
						return err
					}
					return printJSON(msgs)
				},
			},
			{
				Name:  "connections",
				Usage: "List visible workspace connections",
				Flags: withDefaultFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					ocClient, err := sessionClient(c)
					if err != nil {
						return err
					}
					conns, err := ocClient.ListConnections(ctx)
					if err != nil {
						return err
					}
					return printJSON(conns)
				},
			},
		},
	}
}
