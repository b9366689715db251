// Package cli implements the userdir operator tool:
//
//	cli hash-password [-cost N]        prints a bcrypt hash for the credentials table
//	cli login [-server URL] [-user U]  obtains an access token from a running server
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/userdir/internal/netx"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
)

const requestTimeout = 10 * time.Second

type App struct {
	reader *bufio.Reader
	out    io.Writer
	http   *http.Client
}

func NewApp(in io.Reader, out io.Writer) *App {
	return &App{
		reader: bufio.NewReader(in),
		out:    out,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "Usage: cli <command> [flags]")
	fmt.Fprintln(a.out, "Commands: hash-password, login")
}

// Run dispatches args[0] to a command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return errors.New("no command given")
	}

	switch args[0] {
	case "hash-password":
		return a.hashPassword(args[1:])
	case "login":
		return a.login(ctx, args[1:])
	case "help", "-h", "--help":
		a.usage()
		return nil
	default:
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(a.out)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	if len(pw) == 0 {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(string(pw), *cost)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, hash)
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (a *App) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.out)
	server := fs.String("server", "http://localhost:8080", "server base URL")
	user := fs.String("user", "", "username (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := netx.ValidateHTTPURL(*server); err != nil {
		return err
	}

	username := *user
	if username == "" {
		var err error
		username, err = GetSimpleText(a.reader, "Enter username", a.out)
		if err != nil {
			return err
		}
	}

	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	body, err := json.Marshal(loginRequest{Username: username, Password: string(pw)})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	raw, err := netx.PostJSON(ctx, a.http, strings.TrimRight(*server, "/")+"/auth/login", body)
	if err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return errors.New("invalid username or password")
		}
		return fmt.Errorf("login: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintln(a.out, resp.Token)
	return nil
}
