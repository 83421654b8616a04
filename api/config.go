// Package api holds the resolved configuration objects the cmd/ CLI builds
// from flags and hands to the rest of the module — the equivalent of the
// teacher's Topology root object, generalized from "a schema describing a
// directory tree" to "everything needed to mount one coursefs filesystem".
package api

import "os"

// Config is the fully-resolved configuration for one mount.
type Config struct {
	User  string
	Mount string

	Format              string
	CacheDir            string
	StudIPURL           string
	SkipRootFolderNames map[string]bool

	Auth AuthConfig
	FUSE FUSEOptions

	Debug        bool
	DebugLogging bool
	DebugAIO     bool
}

// AuthConfig mirrors cmd_util.py's "Authentication Options" argument group.
type AuthConfig struct {
	Method            string // "shib", "oauth", or "basic"
	PasswordFile      string // "-" reads from stdin
	ShibURL           string
	OAuthClientKey    string
	OAuthSessionToken string
	OAuthNoLogin      bool
	OAuthNoBrowser    bool
	OAuthNoStore      bool
}

// FUSEOptions mirrors cmd_util.py's "FUSE Options" argument group, passed
// through to the winfsp/cgofuse mount call in cmd/mount.go.
type FUSEOptions struct {
	Foreground         bool
	NoThreads          bool
	AllowOther         bool
	AllowRoot          bool
	NonEmpty           bool
	Umask              string
	UID                string
	GID                string
	DefaultPermissions bool
	DebugFUSE          bool
}

const defaultFormat = "{semester-lexical}/{class}/{course}/{type}/{short-path}/{name}"

const defaultStudIPURL = "https://studip.uni-passau.de/studip/api.php/"

const defaultShibURL = "https://studip.uni-passau.de/studip/index.php?again=yes&sso=shib"

// DefaultConfig returns a Config seeded with the same defaults as
// cmd_util.py's argparse parser (appdirs-style cache/config dirs resolved
// via os.UserCacheDir/os.UserConfigDir rather than the appdirs package).
func DefaultConfig() *Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	return &Config{
		Format:    defaultFormat,
		CacheDir:  cacheDir + "/coursefs",
		StudIPURL: defaultStudIPURL,
		Auth: AuthConfig{
			Method:            "oauth",
			PasswordFile:      configDir + "/coursefs/.studip-pw",
			ShibURL:           defaultShibURL,
			OAuthSessionToken: configDir + "/coursefs/.studip-oauth-session",
		},
	}
}
