package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/oauth2"

	"github.com/agentic-research/coursefs/api"
	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/download"
	"github.com/agentic-research/coursefs/internal/fuseops"
	"github.com/agentic-research/coursefs/internal/httpclient"
	"github.com/agentic-research/coursefs/internal/rpath"
	"github.com/agentic-research/coursefs/internal/scheduler"
	"github.com/agentic-research/coursefs/internal/vpath"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfg       = api.DefaultConfig()
	mountOpts []string
)

func init() {
	rootCmd.Flags().StringVar(&cfg.Format, "format", cfg.Format, "format specifier for virtual paths")
	rootCmd.Flags().StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "path to cache directory")
	rootCmd.Flags().StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "alias for --cache-dir")
	rootCmd.Flags().StringVar(&cfg.StudIPURL, "studip-url", cfg.StudIPURL, "Stud.IP API URL")
	rootCmd.Flags().StringVar(&cfg.StudIPURL, "studip", cfg.StudIPURL, "alias for --studip-url")
	rootCmd.Flags().StringSlice("skip-root-folder-names", nil, "generic course-root folder names; when the root has a single child folder, that child is elided from short-path (default: Allgemeiner Dateiordner, Hauptordner)")

	rootCmd.Flags().StringVar(&cfg.Auth.Method, "login-method", cfg.Auth.Method, "method for logging in to Stud.IP session (shib|oauth|basic)")
	rootCmd.Flags().StringVar(&cfg.Auth.PasswordFile, "pwfile", cfg.Auth.PasswordFile, "path to password file, or '-' to read from stdin (basic/shib auth)")
	rootCmd.Flags().StringVar(&cfg.Auth.ShibURL, "shib-url", cfg.Auth.ShibURL, "Stud.IP SSO URL")
	rootCmd.Flags().StringVar(&cfg.Auth.ShibURL, "sso", cfg.Auth.ShibURL, "alias for --shib-url")
	rootCmd.Flags().StringVar(&cfg.Auth.OAuthClientKey, "oauth-client-key", "", "path to JSON file containing OAuth Client Key and Secret")
	rootCmd.Flags().StringVar(&cfg.Auth.OAuthSessionToken, "oauth-session-token", cfg.Auth.OAuthSessionToken, "path to file where the session keys should be read from/stored to")
	rootCmd.Flags().BoolVar(&cfg.Auth.OAuthNoLogin, "oauth-no-login", false, "disable interactive OAuth authentication when no valid session token is found")
	rootCmd.Flags().BoolVar(&cfg.Auth.OAuthNoBrowser, "oauth-no-browser", false, "don't automatically open the browser during interactive OAuth authentication")
	rootCmd.Flags().BoolVar(&cfg.Auth.OAuthNoStore, "oauth-no-store", false, "don't store the new session token obtained after logging in")

	rootCmd.Flags().BoolVarP(&cfg.FUSE.Foreground, "foreground", "f", false, "run in foreground")
	rootCmd.Flags().BoolVarP(&cfg.FUSE.NoThreads, "nothreads", "s", false, "single thread for FUSE")
	rootCmd.Flags().BoolVar(&cfg.FUSE.AllowOther, "allow-other", false, "allow access by all users")
	rootCmd.Flags().BoolVar(&cfg.FUSE.AllowRoot, "allow-root", false, "allow access by root")
	rootCmd.Flags().BoolVar(&cfg.FUSE.NonEmpty, "nonempty", false, "allow mounts over non-empty file/dir")
	rootCmd.Flags().StringVar(&cfg.FUSE.Umask, "umask", "", "set file permissions (octal)")
	rootCmd.Flags().StringVar(&cfg.FUSE.UID, "uid", "", "set file owner")
	rootCmd.Flags().StringVar(&cfg.FUSE.GID, "gid", "", "set file group")
	rootCmd.Flags().BoolVar(&cfg.FUSE.DefaultPermissions, "default-permissions", false, "enable permission checking by kernel")
	rootCmd.Flags().BoolVar(&cfg.FUSE.DebugFUSE, "debug-fuse", false, "enable FUSE debug mode (includes --foreground)")

	rootCmd.Flags().BoolVarP(&cfg.Debug, "debug", "d", false, "turn on all debugging options")
	rootCmd.Flags().BoolVarP(&cfg.DebugLogging, "debug-logging", "v", false, "turn on debug logging")
	rootCmd.Flags().BoolVar(&cfg.DebugAIO, "debug-aio", false, "turn on scheduler debug logging")
	rootCmd.Flags().StringArrayVarP(&mountOpts, "option", "o", nil, "FUSE-like mount option(s), k=v[,k=v]")
	rootCmd.Flags().BoolP("version", "V", false, "version for coursefs")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coursefs version %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

var rootCmd = &cobra.Command{
	Use:     "coursefs [user] [mount]",
	Short:   "coursefs: a read-only FUSE view of a course-management server",
	Args:    cobra.ExactArgs(2),
	Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.User = args[0]
		cfg.Mount = args[1]

		if cfg.Debug {
			cfg.DebugLogging = true
			cfg.FUSE.DebugFUSE = true
			cfg.DebugAIO = true
		}
		if cfg.FUSE.DebugFUSE {
			cfg.FUSE.Foreground = true
		}

		log := newLogger(cfg)

		if skip, _ := cmd.Flags().GetStringSlice("skip-root-folder-names"); len(skip) > 0 {
			cfg.SkipRootFolderNames = make(map[string]bool, len(skip))
			for _, name := range skip {
				cfg.SkipRootFolderNames[name] = true
			}
		} else {
			cfg.SkipRootFolderNames = vpath.DefaultSkipRootFolderNames()
		}

		if len(mountOpts) > 0 {
			if err := api.ApplyMountOptions(cfg, mountOpts, log); err != nil {
				return err
			}
		}

		return runMount(cmd.Context(), cfg, log)
	},
}

func newLogger(cfg *api.Config) *logrus.Entry {
	l := logrus.New()
	if cfg.DebugLogging {
		l.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(l)
	if cfg.DebugAIO {
		entry = entry.WithField("component", "scheduler")
	}
	return entry
}

func readPassword(path string) (string, error) {
	if path == "-" {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read password file %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func buildAuthenticator(cfg *api.Config) (httpclient.Authenticator, error) {
	switch cfg.Auth.Method {
	case "basic":
		password, err := readPassword(cfg.Auth.PasswordFile)
		if err != nil {
			return nil, err
		}
		return &httpclient.BasicAuth{Username: cfg.User, Password: password}, nil
	case "shib":
		password, err := readPassword(cfg.Auth.PasswordFile)
		if err != nil {
			return nil, err
		}
		return &httpclient.FormSSOAuth{StartURL: cfg.Auth.ShibURL, Username: cfg.User, Password: password}, nil
	case "oauth":
		var store httpclient.TokenStore
		if cfg.Auth.OAuthSessionToken != "" {
			store = httpclient.FileTokenStore{Path: cfg.Auth.OAuthSessionToken}
			if cfg.Auth.OAuthNoStore {
				store = httpclient.NoSave(store)
			}
		}
		// Config is resolved lazily inside Login, rather than eagerly here,
		// so a mount with a cached valid session token (or --oauth-no-login)
		// never has to fail over a missing --oauth-client-key it won't use.
		return &httpclient.OAuthAuth{
			Store:   store,
			NoLogin: cfg.Auth.OAuthNoLogin,
			Login: func(ctx context.Context, oc *oauth2.Config) (*oauth2.Token, error) {
				if oc == nil {
					var err error
					oc, err = loadOAuthConfig(cfg)
					if err != nil {
						return nil, err
					}
				}
				return browserLogin(ctx, oc, !cfg.Auth.OAuthNoBrowser)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown --login-method %q (use shib, oauth or basic)", cfg.Auth.Method)
	}
}

// runMount wires every component built so far into one running mount,
// restoring __main__.py's overall startup sequence: authenticate, probe
// discovery, build the VP/RP tree on the scheduler goroutine, then hand the
// result to cgofuse's FileSystemHost.
func runMount(ctx context.Context, cfg *api.Config, log *logrus.Entry) error {
	auth, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	httpCfg := httpclient.Config{}
	client := httpclient.New(httpCfg, auth)

	if sso, ok := auth.(*httpclient.FormSSOAuth); ok {
		sso.Do = client.HTTPClient().Do
		if err := sso.Login(ctx); err != nil {
			return fmt.Errorf("shibboleth login: %w", err)
		}
	}

	remoteCatalog := catalog.NewStudIPCatalog(client, cfg.StudIPURL)

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", cfg.CacheDir, err)
	}
	var newBar func() download.ProgressReporter
	if cfg.FUSE.Foreground {
		newBar = download.NewBarProgress
	}
	downloads := download.NewCache(cfg.CacheDir, client.AuthenticatedHTTPClient(), log, newBar)

	tree := &vpath.Tree{
		Segments:            strings.Split(cfg.Format, "/"),
		Catalog:             remoteCatalog,
		SkipRootFolderNames: cfg.SkipRootFolderNames,
	}

	sched, rootRPVal, err := scheduler.Start(ctx, log, func(ctx context.Context) (any, error) {
		if err := remoteCatalog.CheckLogin(ctx, cfg.User); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		if disc, ok := any(remoteCatalog).(catalog.Discovery); ok {
			if err := disc.CheckDiscovery(ctx); err != nil {
				return nil, fmt.Errorf("discovery: %w", err)
			}
		}
		rootVP, err := vpath.NewRoot(tree)
		if err != nil {
			return nil, err
		}
		return rpath.New(nil, []*vpath.VP{rootVP})
	})
	if err != nil {
		return fmt.Errorf("initialize mount: %w", err)
	}

	fs := fuseops.New(sched, rootRPVal.(*rpath.RP), downloads, log)

	if err := os.MkdirAll(cfg.Mount, 0o755); err != nil {
		sched.Stop()
		return fmt.Errorf("create mount point %s: %w", cfg.Mount, err)
	}

	host := fuse.NewFileSystemHost(fs)
	opts := fuseMountOptions(cfg)

	log.Infof("mounting coursefs at %s", cfg.Mount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Printf("\nUnmounting %s...\n", cfg.Mount)
		host.Unmount()
	}()

	if !host.Mount(cfg.Mount, opts) {
		sched.Stop()
		return fmt.Errorf("mount failed")
	}
	sched.Stop()
	return nil
}

// fuseMountOptions restores the read-only "-o ro" option unconditionally
// (this driver never writes) plus the teacher's own uid/gid/fsname passthrough
// pattern from mountFUSE, extended with this spec's allow-other/allow-root/
// nonempty/umask/default-permissions/debug passthrough.
func fuseMountOptions(cfg *api.Config) []string {
	opts := []string{
		"-o", "ro",
		"-o", "fsname=coursefs",
		"-o", "subtype=coursefs",
	}
	if cfg.FUSE.AllowOther {
		opts = append(opts, "-o", "allow_other")
	}
	if cfg.FUSE.AllowRoot {
		opts = append(opts, "-o", "allow_root")
	}
	if cfg.FUSE.NonEmpty {
		opts = append(opts, "-o", "nonempty")
	}
	if cfg.FUSE.DefaultPermissions {
		opts = append(opts, "-o", "default_permissions")
	}
	if cfg.FUSE.Umask != "" {
		opts = append(opts, "-o", "umask="+cfg.FUSE.Umask)
	}
	if cfg.FUSE.UID != "" {
		opts = append(opts, "-o", "uid="+cfg.FUSE.UID)
	}
	if cfg.FUSE.GID != "" {
		opts = append(opts, "-o", "gid="+cfg.FUSE.GID)
	}
	if cfg.FUSE.DebugFUSE {
		opts = append(opts, "-d")
	}
	if cfg.FUSE.NoThreads {
		opts = append(opts, "-s")
	}
	return opts
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
