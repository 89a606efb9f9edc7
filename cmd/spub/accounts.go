package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/elsanchez/smart-publish/internal/tui/accounts"
	"github.com/elsanchez/smart-publish/pkg/client"
)

func accountID(cmd *cli.Command) (int64, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("account ID is required")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account ID: %s", arg)
	}
	return id, nil
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acc"},
		Usage:   "Manage publishing accounts",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List accounts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Only accounts of this platform",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					list, err := newClient(cmd).ListAccounts(ctx, cmd.String("platform"))
					if err != nil {
						return err
					}
					if len(list) == 0 {
						fmt.Println("No accounts found")
						return nil
					}
					for _, acc := range list {
						verified := "never"
						if acc.LastVerifiedAt != nil {
							verified = acc.LastVerifiedAt.Local().Format("2006-01-02 15:04")
						}
						fmt.Printf("%4d  %-10s %-20s %-11s verified: %s\n", acc.ID, acc.Platform, acc.Label, acc.Status, verified)
					}
					return nil
				},
			},
			{
				Name:      "import",
				Usage:     "Import cookies from a Netscape file or a browser",
				ArgsUsage: "[cookie-file]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "label",
						Aliases:  []string{"l"},
						Usage:    "Account label",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "browser",
						Usage: "Read cookies from this browser instead of a file",
					},
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Platform (default: detected from cookie domains)",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite the credential of an existing account",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					req := &client.ImportRequest{
						Browser:  cmd.String("browser"),
						Platform: cmd.String("platform"),
						Label:    cmd.String("label"),
						Force:    cmd.Bool("force"),
					}
					if arg := cmd.Args().First(); arg != "" {
						path, err := filepath.Abs(arg)
						if err != nil {
							return err
						}
						req.FilePath = path
					}
					if (req.FilePath == "") == (req.Browser == "") {
						return fmt.Errorf("give either a cookie file or --browser")
					}

					acc, err := newClient(cmd).ImportAccount(ctx, req)
					if err != nil {
						return err
					}
					fmt.Printf("✓ Account %d imported: %s/%s (%s)\n", acc.ID, acc.Platform, acc.Label, acc.Status)
					fmt.Printf("  Run 'spub accounts validate %d' before publishing\n", acc.ID)
					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "Check an account's credential against the platform",
				ArgsUsage: "<account-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := accountID(cmd)
					if err != nil {
						return err
					}
					res, err := newClient(cmd).ValidateAccount(ctx, id)
					if err != nil {
						return err
					}

					switch res.Verdict {
					case "valid":
						fmt.Printf("✓ Account %d is valid\n", id)
					case "invalid":
						fmt.Printf("✗ Account %d is invalid: %s\n", id, res.Reason)
						fmt.Printf("  Log in again with 'spub login %s %s'\n", res.Account.Platform, res.Account.Label)
					default:
						fmt.Printf("❓ Could not check account %d: %s\n", id, res.Reason)
					}
					return nil
				},
			},
			{
				Name:      "export",
				Usage:     "Write an account's cookies as a Netscape file",
				ArgsUsage: "<account-id> <output-file>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := accountID(cmd)
					if err != nil {
						return err
					}
					if cmd.NArg() != 2 {
						return fmt.Errorf("output file is required")
					}
					path, err := filepath.Abs(cmd.Args().Get(1))
					if err != nil {
						return err
					}

					n, err := newClient(cmd).ExportAccount(ctx, id, path)
					if err != nil {
						return err
					}
					fmt.Printf("✓ Exported %d cookies to %s\n", n, path)
					return nil
				},
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete an account and its credential",
				ArgsUsage: "<account-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := accountID(cmd)
					if err != nil {
						return err
					}
					if err := newClient(cmd).DeleteAccount(ctx, id); err != nil {
						return err
					}
					fmt.Printf("✓ Account %d deleted\n", id)
					return nil
				},
			},
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Log in to an account by scanning a QR code",
		ArgsUsage: "<platform> <label>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "qr",
				Usage: "Where to save the QR image",
				Value: filepath.Join(os.TempDir(), "spub-login-qr.png"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("platform and label are required")
			}
			platform, label := cmd.Args().Get(0), cmd.Args().Get(1)
			qrPath := cmd.String("qr")

			final, err := newClient(cmd).Login(ctx, platform, label, func(ev client.LoginEvent) {
				if ev.Type != "challenge" {
					return
				}
				if err := saveChallenge(ev.Challenge, qrPath); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
					fmt.Println(ev.Challenge)
					return
				}
				fmt.Printf("Scan the QR code saved at %s with the %s app\n", qrPath, platform)
				fmt.Println("Waiting for confirmation...")
			})
			if err != nil {
				return err
			}

			switch final.Type {
			case "success":
				fmt.Printf("✓ Logged in: account %d (%s/%s)\n", final.AccountID, platform, label)
				return nil
			case "timeout":
				return fmt.Errorf("login timed out: %s", final.Reason)
			default:
				return fmt.Errorf("login failed: %s", final.Reason)
			}
		},
	}
}

// saveChallenge escribe el QR cuando llega como data URL
func saveChallenge(challenge, path string) error {
	const prefix = "base64,"
	i := strings.Index(challenge, prefix)
	if !strings.HasPrefix(challenge, "data:") || i < 0 {
		return fmt.Errorf("challenge is not an image")
	}

	data, err := base64.StdEncoding.DecodeString(challenge[i+len(prefix):])
	if err != nil {
		return fmt.Errorf("decode QR image: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func tuiCommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Interactive account manager",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := tea.NewProgram(accounts.NewModel(newClient(cmd)), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("error running TUI: %w", err)
			}
			return nil
		},
	}
}
