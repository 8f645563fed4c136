package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	apiclient "github.com/kagehq/brail/pkg/api/client"
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
	case "site":
		err = commandSite(args)
	case "deploy":
		err = commandDeploy(args)
	case "patch":
		err = commandPatch(args)
	case "release":
		err = commandRelease(args)
	case "rollback":
		err = commandRollback(args)
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
	token := fs.String("token", "", "API token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return errors.New("a token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("token saved")
	return nil
}

func commandSite(args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return errors.New("usage: brail site create --name <name>")
	}
	fs := flag.NewFlagSet("site create", flag.ExitOnError)
	name := fs.String("name", "", "Site name")
	fs.Parse(args[1:])
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	site, err := client.CreateSite(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("site created: %s (%s)\n", site.ID, site.Name)
	return nil
}

func commandDeploy(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: brail deploy [push|list|logs|delete]")
	}
	sub := args[0]
	switch sub {
	case "push":
		return deployPush(args[1:])
	case "list":
		return deployList(args[1:])
	case "logs":
		return deployLogs(args[1:])
	case "delete":
		return deployDelete(args[1:])
	default:
		return fmt.Errorf("unknown deploy command: %s", sub)
	}
}

func deployPush(args []string) error {
	fs := flag.NewFlagSet("deploy push", flag.ExitOnError)
	siteID := fs.String("site", "", "Site identifier")
	dir := fs.String("dir", ".", "Directory to upload")
	comment := fs.String("comment", "", "Deploy comment")
	noActivate := fs.Bool("no-activate", false, "Finalize without activating")
	fs.Parse(args)

	if strings.TrimSpace(*siteID) == "" {
		return errors.New("--site is required")
	}
	files, err := collectFiles(*dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found in %s", *dir)
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	d, err := client.CreateDeploy(ctx, *siteID)
	if err != nil {
		return err
	}
	fmt.Printf("deploy %s: uploading %d files\n", d.ID, len(files))
	for _, f := range files {
		if err := uploadOne(ctx, client, d.ID, f); err != nil {
			return fmt.Errorf("upload %s: %w", f.sitePath, err)
		}
	}
	finalized, err := client.FinalizeDeploy(ctx, d.ID, *comment)
	if err != nil {
		return err
	}
	fmt.Printf("deploy %s finalized: %d files, %d bytes\n", finalized.ID, finalized.FileCount, finalized.ByteSize)
	if *noActivate {
		return nil
	}
	res, err := client.ActivateDeploy(ctx, d.ID, *comment)
	if err != nil {
		return err
	}
	fmt.Printf("deploy %s active at %s\n", res.Deploy.ID, res.PublicURL)
	return nil
}

type localFile struct {
	abs      string
	sitePath string
	size     int64
}

// collectFiles lists the regular files under dir with their site paths.
// Hidden entries are skipped.
func collectFiles(dir string) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{abs: p, sitePath: "/" + filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	return files, err
}

func uploadOne(ctx context.Context, client *apiclient.Client, deployID string, f localFile) error {
	body, err := os.Open(f.abs)
	if err != nil {
		return err
	}
	defer body.Close()
	contentType := mime.TypeByExtension(path.Ext(f.sitePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return client.UploadFile(ctx, deployID, f.sitePath, body, f.size, contentType)
}

func deployList(args []string) error {
	fs := flag.NewFlagSet("deploy list", flag.ExitOnError)
	siteID := fs.String("site", "", "Site identifier")
	limit := fs.Int("limit", 10, "Maximum number of deploys")
	fs.Parse(args)
	if strings.TrimSpace(*siteID) == "" {
		return errors.New("--site is required")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deploys, err := client.ListDeploys(ctx, *siteID, *limit)
	if err != nil {
		return err
	}
	for _, d := range deploys {
		kind := "full"
		if d.IsPatch {
			kind = "patch"
		}
		fmt.Printf("%s\t%s\t%s\t%d files\t%s\n", d.ID, d.Status, kind, d.FileCount, d.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func deployLogs(args []string) error {
	fs := flag.NewFlagSet("deploy logs", flag.ExitOnError)
	deployID := fs.String("deploy", "", "Deploy identifier")
	limit := fs.Int("limit", 100, "Maximum number of log lines")
	fs.Parse(args)
	if strings.TrimSpace(*deployID) == "" {
		return errors.New("--deploy is required")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entries, err := client.FetchLogs(ctx, *deployID, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), strings.ToUpper(e.Level), e.Message)
	}
	return nil
}

func deployDelete(args []string) error {
	fs := flag.NewFlagSet("deploy delete", flag.ExitOnError)
	deployID := fs.String("deploy", "", "Deploy identifier")
	fs.Parse(args)
	if strings.TrimSpace(*deployID) == "" {
		return errors.New("--deploy is required")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.DeleteDeploy(ctx, *deployID); err != nil {
		return err
	}
	fmt.Println("deploy deleted")
	return nil
}

func commandPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	siteID := fs.String("site", "", "Site identifier")
	replace := fs.StringSlice("replace", nil, "Replace a file: <site path>=<local file> (repeatable)")
	remove := fs.StringSlice("delete", nil, "Site paths to delete")
	comment := fs.String("comment", "", "Activation comment")
	fs.Parse(args)

	if strings.TrimSpace(*siteID) == "" {
		return errors.New("--site is required")
	}
	if len(*replace) == 0 && len(*remove) == 0 {
		return errors.New("nothing to patch: pass --replace or --delete")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var patches []string
	for _, spec := range *replace {
		sitePath, local, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("invalid --replace %q, want <site path>=<local file>", spec)
		}
		res, err := replaceOne(ctx, client, *siteID, sitePath, local)
		if err != nil {
			return err
		}
		patches = append(patches, res.DeployID)
	}
	if len(*remove) > 0 {
		res, err := client.DeletePaths(ctx, *siteID, *remove)
		if err != nil {
			return err
		}
		patches = append(patches, res.DeployID)
	}

	// Each patch is based on the deploy live when it was opened, so they
	// are applied in order.
	for _, id := range patches {
		if err := client.FinalizePatch(ctx, id); err != nil {
			return err
		}
		res, err := client.ActivatePatch(ctx, id, *comment)
		if err != nil {
			return err
		}
		fmt.Printf("patch %s active at %s\n", id, res.PublicURL)
	}
	return nil
}

func replaceOne(ctx context.Context, client *apiclient.Client, siteID, sitePath, local string) (apiclient.PatchResult, error) {
	f, err := os.Open(local)
	if err != nil {
		return apiclient.PatchResult{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return apiclient.PatchResult{}, err
	}
	contentType := mime.TypeByExtension(path.Ext(sitePath))
	return client.ReplaceFile(ctx, siteID, sitePath, f, info.Size(), contentType)
}

func destinationFlags(fs *flag.FlagSet) func() (apiclient.Destination, error) {
	profileID := fs.String("profile", "", "Connection profile identifier")
	adapterName := fs.String("adapter", "", "Adapter name for an ad-hoc destination")
	configJSON := fs.String("config", "", "Adapter config as JSON (with --adapter)")
	target := fs.String("target", "", "Release target (preview|production)")
	return func() (apiclient.Destination, error) {
		dest := apiclient.Destination{ProfileID: *profileID, Adapter: *adapterName, Target: *target}
		if strings.TrimSpace(*configJSON) != "" {
			if err := json.Unmarshal([]byte(*configJSON), &dest.Config); err != nil {
				return apiclient.Destination{}, fmt.Errorf("parse --config: %w", err)
			}
		}
		return dest, nil
	}
}

func commandRelease(args []string) error {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	deployID := fs.String("deploy", "", "Deploy identifier")
	stageOnly := fs.Bool("stage", false, "Upload without activating")
	dest := destinationFlags(fs)
	fs.Parse(args)

	if strings.TrimSpace(*deployID) == "" {
		return errors.New("--deploy is required")
	}
	selected, err := dest()
	if err != nil {
		return err
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var rel apiclient.Release
	if *stageOnly {
		rel, err = client.StageRelease(ctx, *deployID, selected)
	} else {
		rel, err = client.Release(ctx, *deployID, selected)
	}
	if err != nil {
		return err
	}
	printRelease(rel)
	return nil
}

func commandRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	siteID := fs.String("site", "", "Site identifier")
	toDeployID := fs.String("to", "", "Deploy to roll back to")
	list := fs.Bool("list", false, "List releases instead of rolling back")
	dest := destinationFlags(fs)
	fs.Parse(args)

	if strings.TrimSpace(*siteID) == "" {
		return errors.New("--site is required")
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if *list {
		releases, err := client.ListReleases(ctx, *siteID, 0)
		if err != nil {
			return err
		}
		for _, rel := range releases {
			printRelease(rel)
		}
		return nil
	}
	if strings.TrimSpace(*toDeployID) == "" {
		return errors.New("--to is required")
	}
	selected, err := dest()
	if err != nil {
		return err
	}
	rel, err := client.Rollback(ctx, *siteID, *toDeployID, selected)
	if err != nil {
		return err
	}
	printRelease(rel)
	return nil
}

func printRelease(rel apiclient.Release) {
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", rel.ID, rel.DeployID, rel.Adapter, rel.Target, rel.Status)
	if rel.PreviewURL != nil {
		line += "\t" + *rel.PreviewURL
	}
	if rel.ErrorMessage != nil {
		line += "\terror: " + *rel.ErrorMessage
	}
	fmt.Println(line)
}

func authedClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("please login first using 'brail login'")
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithToken(token))
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
	if override := strings.TrimSpace(os.Getenv("BRAIL_CONFIG")); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "brail", "config.json"), nil
}

func printUsage() {
	fmt.Printf("brail CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	brail login [--token <token>] [--api http://localhost:4000]
	brail site create --name <name>
	brail deploy push --site <site-id> [--dir .] [--comment text] [--no-activate]
	brail deploy list --site <site-id> [--limit N]
	brail deploy logs --deploy <deploy-id> [--limit N]
	brail deploy delete --deploy <deploy-id>
	brail patch --site <site-id> [--replace /path=local ...] [--delete /a,/b] [--comment text]
	brail release --deploy <deploy-id> [--stage] [--profile id | --adapter name --config '{...}'] [--target preview|production]
	brail rollback --site <site-id> --to <deploy-id> [--profile id | --adapter name]
	brail rollback --site <site-id> --list
	brail version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
