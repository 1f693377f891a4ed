package endpoint

import (
	"net/url"
	"strings"

	"github.com/postalsys/wscat/internal/errkind"
)

// specifierNames is the set of registered prefixes, used to decide whether
// a wrapper's argument is itself a specifier or a terminal address.
var specifierNames = map[string]bool{
	"tcp": true, "tcp-l": true, "l-tcp": true,
	"udp": true, "udp-l": true, "l-udp": true,
	"unix": true, "unix-l": true, "l-unix": true,
	"stdio": true, "threadedstdio": true,
	"exec": true, "sh-c": true,
	"mirror": true, "literal": true, "literalreply": true,
	"reconnect": true, "autoreconnect": true,
	"reuse": true, "reuse-raw": true,
	"ws-c": true, "ws-connect": true,
	"ws-listen": true, "l-ws": true, "ws-l": true,
	"socks5-connect": true,
}

// Parse turns a textual specifier into a specifier tree. Nesting is
// left-to-right: ws-listen:tcp-l:127.0.0.1:8080 parses into a WsUpgrade
// wrapping a TCPListen. The parser performs no I/O.
func Parse(s string) (Specifier, error) {
	if s == "" {
		return nil, errkind.Errorf(errkind.Parse, "empty specifier")
	}

	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, errkind.Errorf(errkind.Parse, "websocket URL %q: %w", s, err)
		}
		if u.Host == "" {
			return nil, errkind.Errorf(errkind.Parse, "websocket URL %q has no host", s)
		}
		return &WsURL{URL: u}, nil
	}

	if s == "-" {
		return &Stdio{}, nil
	}

	name, rest, found := strings.Cut(s, ":")
	if !found {
		return nil, errkind.Errorf(errkind.Parse, "unknown specifier %q (missing colon)", s)
	}

	switch name {
	case "tcp":
		return requireArg(&TCPConnect{Addr: rest}, name, rest)
	case "tcp-l", "l-tcp":
		return requireArg(&TCPListen{Addr: rest}, name, rest)
	case "udp":
		return requireArg(&UDPConnect{Addr: rest}, name, rest)
	case "udp-l", "l-udp":
		return requireArg(&UDPListen{Addr: rest}, name, rest)
	case "unix":
		return requireArg(&UnixConnect{Path: rest}, name, rest)
	case "unix-l", "l-unix":
		return requireArg(&UnixListen{Path: rest}, name, rest)
	case "stdio":
		return requireNoArg(&Stdio{}, name, rest)
	case "threadedstdio":
		return requireNoArg(&ThreadedStdio{}, name, rest)
	case "mirror":
		return requireNoArg(&Mirror{}, name, rest)
	case "literal":
		return &Literal{Data: rest}, nil
	case "literalreply":
		return &LiteralReply{Data: rest}, nil
	case "exec":
		return requireArg(&Exec{Cmd: rest}, name, rest)
	case "sh-c":
		return requireArg(&ShC{Cmd: rest}, name, rest)
	case "reconnect", "autoreconnect":
		inner, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		return &Reconnect{Inner: inner}, nil
	case "reuse", "reuse-raw":
		inner, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		return &Reuser{Inner: inner}, nil
	case "ws-c", "ws-connect":
		inner, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		return &WsClient{Inner: inner}, nil
	case "ws-listen":
		inner, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		return &WsUpgrade{Inner: inner}, nil
	case "ws-l", "l-ws":
		// Sugar: ws-l:127.0.0.1:8080 listens on TCP; a nested specifier is
		// also accepted.
		if looksLikeSpecifier(rest) {
			inner, err := Parse(rest)
			if err != nil {
				return nil, err
			}
			return &WsUpgrade{Inner: inner}, nil
		}
		if rest == "" {
			return nil, errkind.Errorf(errkind.Parse, "%s: requires an address", name)
		}
		return &WsUpgrade{Inner: &TCPListen{Addr: rest}}, nil
	case "socks5-connect":
		proxyAddr, target, ok := splitProxyTarget(rest)
		if !ok {
			return nil, errkind.Errorf(errkind.Parse, "socks5-connect %q: want proxyaddr/targetaddr", rest)
		}
		return &Socks5Connect{Proxy: proxyAddr, Target: target}, nil
	default:
		return nil, errkind.Errorf(errkind.Parse, "unknown specifier prefix %q in %q", name, s)
	}
}

// looksLikeSpecifier reports whether s starts with a registered prefix or
// a WebSocket URL scheme.
func looksLikeSpecifier(s string) bool {
	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		return true
	}
	if s == "-" {
		return true
	}
	name, _, found := strings.Cut(s, ":")
	return found && specifierNames[name]
}

func requireArg(s Specifier, name, rest string) (Specifier, error) {
	if rest == "" {
		return nil, errkind.Errorf(errkind.Parse, "%s: requires an argument", name)
	}
	return s, nil
}

func requireNoArg(s Specifier, name, rest string) (Specifier, error) {
	if rest != "" {
		return nil, errkind.Errorf(errkind.Parse, "%s: takes no argument, got %q", name, rest)
	}
	return s, nil
}
