package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/stackform/portal/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout(args)
	case "whoami":
		err = commandWhoami(args)
	case "env":
		err = commandEnv(args)
	case "type":
		err = commandType(args)
	case "request":
		err = commandRequest(args)
	case "approval":
		err = commandApproval(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", resp.User.Email, resp.User.Role)
	return nil
}

func commandLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	cfg, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Logout(ctx, token); err != nil {
		return err
	}
	cfg.AccessToken = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandWhoami(args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Parse(args)

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	user, err := client.Me(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", user.ID, user.Email, user.Role)
	return nil
}

func commandEnv(args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return errors.New("usage: portal env list")
	}
	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	envs, err := client.ListEnvironments(ctx, token)
	if err != nil {
		return err
	}
	for _, env := range envs {
		approval := "auto-approve"
		if env.RequiresApproval {
			approval = "requires approval"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", env.ID, env.Slug, env.Name, approval)
	}
	return nil
}

func commandType(args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return errors.New("usage: portal type list")
	}
	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	types, err := client.ListResourceTypes(ctx, token)
	if err != nil {
		return err
	}
	for _, rt := range types {
		fmt.Printf("%s\t%s\t%s\t$%.2f/mo\n", rt.ID, rt.Slug, rt.Name, rt.BaseCost)
	}
	return nil
}

// authedClient loads the stored credentials and builds a client from them.
func authedClient() (cliConfig, *apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return cliConfig{}, nil, "", errors.New("please login first using 'portal login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, "", err
	}
	return cfg, client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "portal", "config.json"), nil
}

func printUsage() {
	fmt.Printf("portal CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	portal login --email user@example.com [--password secret] [--api http://localhost:4000]
	portal logout
	portal whoami
	portal env list
	portal type list
	portal request new
	portal request list [--status draft|pending|approved|rejected|applied|failed] [--environment <env-id>]
	portal request show --id <request-id>
	portal request submit --id <request-id>
	portal request delete --id <request-id>
	portal approval list
	portal approval show --id <approval-id>
	portal approval approve --id <approval-id> [--comment text]
	portal approval reject --id <approval-id> --comment text
	portal version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
