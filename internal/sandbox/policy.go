package sandbox

import (
	"net"
	"path/filepath"
	"strings"
)

// CheckOpen enforces the file.open policy: read modes always pass; write
// modes are checked against AllowedWritePaths by resolved-prefix match. An
// empty allowlist denies every write.
func (s *State) CheckOpen(path, mode string) error {
	if !s.enforcing {
		return nil
	}
	if isReadOnlyMode(mode) {
		return nil
	}

	if len(s.config.AllowedWritePaths) == 0 {
		return s.record("open", "write to '"+path+"' blocked (no write paths configured)")
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return s.record("open", "write to '"+path+"' blocked (invalid path)")
	}

	for _, allowed := range s.config.AllowedWritePaths {
		absAllowed, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if target == absAllowed || strings.HasPrefix(target, absAllowed+string(filepath.Separator)) {
			return nil
		}
	}

	return s.record("open", "write to '"+target+"' blocked (not in allowed_write_paths)")
}

func isReadOnlyMode(mode string) bool {
	for _, c := range mode {
		switch c {
		case 'r', 'b', 't':
		default:
			return false
		}
	}
	return true
}

// CheckSubprocess enforces subprocess.spawn policy: denied unless
// AllowSubprocess is set.
func (s *State) CheckSubprocess(name string) error {
	if !s.enforcing || s.config.AllowSubprocess {
		return nil
	}
	return s.record(name, "subprocess execution blocked")
}

// CheckNetworkConnect enforces socket.connect policy against raw IP
// addresses: private, loopback, and link-local addresses are denied when
// BlockPrivateIPs is set. net.IP's IsPrivate covers RFC1918 and the IPv6
// ULA range (fc00::/7); IsLinkLocalUnicast covers 169.254/16 and fe80::/10.
func (s *State) CheckNetworkConnect(host string) error {
	if !s.enforcing || !s.config.BlockPrivateIPs {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Not a raw IP — hostname-level filtering belongs to CheckDNS.
		return nil
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return s.record("socket.connect", "connection to private IP "+host+" blocked")
	}
	return nil
}

// CheckDNS enforces the AllowedNetworkHosts hostname allowlist. An empty
// allowlist permits every hostname.
func (s *State) CheckDNS(host string) error {
	if !s.enforcing || len(s.config.AllowedNetworkHosts) == 0 {
		return nil
	}
	for _, allowed := range s.config.AllowedNetworkHosts {
		if host == allowed {
			return nil
		}
	}
	return s.record("socket.getaddrinfo", "DNS resolution for '"+host+"' blocked (not in allowlist)")
}

// CheckImport enforces module.import policy: alwaysBlockedModules are
// denied regardless of Config; otherwise denied when the module's base name
// appears in BlockedCustomModules.
func (s *State) CheckImport(moduleName string) error {
	if !s.enforcing {
		return nil
	}
	base := moduleName
	if i := strings.IndexByte(moduleName, '/'); i >= 0 {
		base = moduleName[:i]
	}

	if alwaysBlockedModules[base] {
		return s.record("import", "import of '"+base+"' blocked (not allowed in sandbox)")
	}
	for _, blocked := range s.config.BlockedCustomModules {
		if base == blocked {
			return s.record("import", "import of '"+base+"' blocked")
		}
	}
	return nil
}

// CheckEval enforces eval/compile policy. isUserSource distinguishes
// user-level eval/compile-of-string calls from internal engine compilation
// (e.g. goja compiling its own generated wrapper code), which always
// passes — kind is "eval" or "compile" and is only used for the violation
// label.
func (s *State) CheckEval(kind string, isUserSource bool) error {
	if !s.enforcing || s.config.AllowEvalExec || !isUserSource {
		return nil
	}
	return s.record(kind, kind+" blocked")
}

// CheckNativeLoad enforces native.library.load policy: always denied inside
// a scope, unconditionally — there is no config flag to allow it.
func (s *State) CheckNativeLoad(name string) error {
	if !s.enforcing {
		return nil
	}
	return s.record("native.library.load", "native library load of '"+name+"' blocked")
}
