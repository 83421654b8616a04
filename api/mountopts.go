package api

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ignoredMountOptions are the fstab-style "-o" values that a FUSE entry in
// /etc/fstab passes automatically and that this driver silently accepts,
// restored verbatim from launcher/cmd_util.py's StoreNameValuePair.
var ignoredMountOptions = map[string]bool{
	"dev": true, "nodev": true, "exec": true, "noexec": true,
	"suid": true, "nosuid": true, "ro": true,
}

// ApplyMountOptions parses one or more comma-separated "-o k=v" option
// strings and applies the recognized ones onto cfg.FUSE, mirroring
// StoreNameValuePair's behavior: "rw" is a hard error ("coursefs only
// supports read-only mounts"), the fstab boilerplate values are accepted
// and logged as ignored, and anything else is dispatched as if it were the
// matching "--name" / "--name=value" flag.
func ApplyMountOptions(cfg *Config, raw []string, log *logrus.Entry) error {
	var ignored []string
	for _, group := range raw {
		for _, value := range strings.Split(group, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			switch {
			case ignoredMountOptions[value]:
				ignored = append(ignored, value)
			case value == "rw":
				return fmt.Errorf("coursefs only supports read-only mounts")
			default:
				if err := applyOneOption(cfg, value); err != nil {
					return err
				}
			}
		}
	}
	if len(ignored) > 0 && log != nil {
		log.Debugf("Ignoring arguments %s", strings.Join(ignored, ", "))
	}
	return nil
}

func applyOneOption(cfg *Config, value string) error {
	name, val, hasVal := strings.Cut(value, "=")
	switch name {
	case "foreground":
		cfg.FUSE.Foreground = true
	case "nothreads":
		cfg.FUSE.NoThreads = true
	case "allow-other", "allow_other":
		cfg.FUSE.AllowOther = true
	case "allow-root", "allow_root":
		cfg.FUSE.AllowRoot = true
	case "nonempty":
		cfg.FUSE.NonEmpty = true
	case "default-permissions", "default_permissions":
		cfg.FUSE.DefaultPermissions = true
	case "debug-fuse":
		cfg.FUSE.DebugFUSE = true
		cfg.FUSE.Foreground = true
	case "umask":
		cfg.FUSE.Umask = val
	case "uid":
		cfg.FUSE.UID = val
	case "gid":
		cfg.FUSE.GID = val
	default:
		if !hasVal {
			return fmt.Errorf("unrecognized mount option %q", value)
		}
		return fmt.Errorf("unrecognized mount option %q", name)
	}
	return nil
}
