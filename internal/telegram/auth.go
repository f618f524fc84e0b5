package telegram

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/mdp/qrterminal/v3"
)

// ensureAuth authorizes the account if the stored session is not yet
// authorized, using either the phone-code flow or QR login.
func (c *Client) ensureAuth(ctx context.Context) error {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}

	if c.opts.QRLogin {
		return c.qrLogin(ctx)
	}
	return c.phoneLogin(ctx)
}

func (c *Client) phoneLogin(ctx context.Context) error {
	if c.opts.Phone == "" {
		return fmt.Errorf("account not authorized and no phone number configured (set the phone or use QR login)")
	}

	flow := auth.NewFlow(
		auth.Constant(c.opts.Phone, c.opts.Password, auth.CodeAuthenticatorFunc(promptCode)),
		auth.SendCodeOptions{},
	)
	if err := flow.Run(ctx, c.client.Auth()); err != nil {
		return fmt.Errorf("phone login: %w", err)
	}
	slog.Info("account authorized", "flow", "phone")
	return nil
}

func (c *Client) qrLogin(ctx context.Context) error {
	loggedIn := qrlogin.OnLoginToken(c.dispatcher)
	_, err := c.client.QR().Auth(ctx, loggedIn, func(ctx context.Context, token qrlogin.Token) error {
		fmt.Fprintln(os.Stdout, "Scan the QR code with the account that should watch the catalog:")
		qrterminal.GenerateHalfBlock(token.URL(), qrterminal.L, os.Stdout)
		return nil
	})
	if err != nil {
		return fmt.Errorf("qr login: %w", err)
	}
	slog.Info("account authorized", "flow", "qr")
	return nil
}

func promptCode(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	fmt.Fprint(os.Stdout, "Enter the login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	return strings.TrimSpace(code), nil
}
