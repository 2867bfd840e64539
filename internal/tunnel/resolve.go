package tunnel

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/user"
	"strconv"
	"strings"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/model"
	"pgtunnel/internal/sshconfig"
	"pgtunnel/internal/util"
)

// ParseSpec parses a tunnel specification string of the form
//
//	[ssh://][user[:password]@]host[:port]
//
// The scheme is optional and implied when absent. Port is left zero when the
// specification omits it so that Resolve can apply the SSH config port
// before falling back to the default.
func ParseSpec(raw string) (model.TunnelSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.TunnelSpec{}, fmt.Errorf("empty tunnel specification")
	}
	if !strings.Contains(raw, "://") {
		raw = "ssh://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.TunnelSpec{}, fmt.Errorf("parse tunnel specification: %w", err)
	}
	if u.Scheme != "ssh" {
		return model.TunnelSpec{}, fmt.Errorf("unsupported tunnel scheme %q", u.Scheme)
	}
	spec := model.TunnelSpec{Host: u.Hostname()}
	if spec.Host == "" {
		return model.TunnelSpec{}, fmt.Errorf("tunnel specification has no host")
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return model.TunnelSpec{}, fmt.Errorf("invalid tunnel port %q", p)
		}
		if err := util.ValidatePort(port); err != nil {
			return model.TunnelSpec{}, err
		}
		spec.Port = port
	}
	if u.User != nil {
		spec.User = u.User.Username()
		spec.Password, _ = u.User.Password()
	}
	return spec, nil
}

// Resolve merges a parsed tunnel specification with the user's OpenSSH
// client configuration into concrete connection parameters.
//
// The spec-supplied username, password, and port always take precedence over
// config-derived values. Identity files come exclusively from the resolved
// config entry (host-specific before wildcard); files missing on disk are
// silently dropped, and no default key locations are ever probed. A missing
// or unreadable SSH config is non-fatal: resolution continues with the
// specification-derived values and the invoking user's identity.
func Resolve(spec model.TunnelSpec, cfg appconfig.Config) (model.ConnectionParams, error) {
	params := model.ConnectionParams{
		Hostname:       spec.Host,
		Port:           spec.Port,
		User:           spec.User,
		Password:       spec.Password,
		AllowAgent:     cfg.AllowAgent,
		HostKeyPolicy:  cfg.Policy(),
		KnownHostsPath: cfg.KnownHostsFile(),
	}

	f, err := sshconfig.Load(cfg.SSHConfigFile())
	if err != nil {
		slog.Warn("could not read SSH config", "path", cfg.SSHConfigFile(), "error", err)
	} else {
		for _, w := range f.Warnings {
			slog.Debug("ssh config warning", "warning", w)
		}
		hc := f.Lookup(spec.Host)
		if hc.HostName != "" {
			params.Hostname = hc.HostName
		}
		if params.User == "" {
			params.User = hc.User
		}
		if params.Port == 0 {
			params.Port = hc.Port
		}
		params.ProxyCommand = hc.ProxyCommand
		for _, id := range hc.IdentityFiles {
			st, err := os.Stat(id)
			if err != nil || st.IsDir() {
				continue
			}
			params.IdentityFiles = append(params.IdentityFiles, id)
		}
		if len(params.IdentityFiles) > 0 {
			slog.Debug("identity files from ssh config", "files", params.IdentityFiles)
		}
	}

	if params.Port == 0 {
		params.Port = util.DefaultSSHPort
	}
	if params.User == "" {
		u, err := user.Current()
		if err != nil || u.Username == "" {
			return model.ConnectionParams{}, ErrNoUsername
		}
		params.User = u.Username
	}
	return params, nil
}
