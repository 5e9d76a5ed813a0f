// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package sockaddr

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// MaxTextLen is the longest address text accepted by Parse.
	MaxTextLen = 64

	// UnixDir is the directory a bare (relative) unix socket name is rooted in.
	UnixDir = "/tmp"

	// maxUnixPath is the usable size of sun_path, leaving room for the NUL.
	maxUnixPath = 107
)

// Standard errors.
var (
	// ErrInvalidFormat is returned by Parse for any malformed address text.
	ErrInvalidFormat = errors.New("sockaddr: invalid address format")

	// ErrUnsupportedFamily is returned by FromSockaddr for address families
	// other than AF_UNIX, AF_INET and AF_INET6.
	ErrUnsupportedFamily = errors.New("sockaddr: unsupported address family")
)

// Family identifies the protocol family of an Address.
type Family uint8

const (
	// FamilyUnspec is the family of the zero Address.
	FamilyUnspec Family = iota
	// FamilyUnix is a unix domain socket address (path or abstract).
	FamilyUnix
	// FamilyInet is an IPv4 address and port.
	FamilyInet
	// FamilyInet6 is an IPv6 address and port.
	FamilyInet6
)

// String returns the protocol token used in address text.
func (f Family) String() string {
	switch f {
	case FamilyUnix:
		return "unix"
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	default:
		return "unspec"
	}
}

// Domain returns the AF_* constant for the family, or AF_UNSPEC.
func (f Family) Domain() int {
	switch f {
	case FamilyUnix:
		return unix.AF_UNIX
	case FamilyInet:
		return unix.AF_INET
	case FamilyInet6:
		return unix.AF_INET6
	default:
		return unix.AF_UNSPEC
	}
}

// Address is a protocol-neutral socket address. It is a comparable value
// type: two addresses referring to the same endpoint compare equal with ==.
//
// For FamilyInet only the first four bytes of ip are used, the rest stay
// zero.
type Address struct {
	path     string
	ip       [16]byte
	port     uint16
	family   Family
	abstract bool
}

// Parse converts address text into an Address.
//
// Accepted forms:
//
//	unix:/absolute/path
//	unix:name            (rooted under UnixDir)
//	unix:@name           (abstract namespace)
//	inet:<ipv4>:<port>
//	inet6:<ipv6>:<port>  (the host may be wrapped in brackets)
//
// Any other input, or input longer than MaxTextLen bytes, fails with an
// error wrapping ErrInvalidFormat.
func Parse(text string) (Address, error) {
	if len(text) > MaxTextLen {
		return Address{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidFormat, MaxTextLen)
	}

	proto, body, ok := strings.Cut(text, ":")
	if !ok || proto == "" {
		return Address{}, fmt.Errorf("%w: missing protocol in %q", ErrInvalidFormat, text)
	}

	switch proto {
	case "unix":
		return parseUnix(body)
	case "inet":
		return parseInet(FamilyInet, body)
	case "inet6":
		return parseInet(FamilyInet6, body)
	default:
		return Address{}, fmt.Errorf("%w: unknown protocol %q", ErrInvalidFormat, proto)
	}
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Address {
	addr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return addr
}

func parseUnix(body string) (Address, error) {
	if body == "" {
		return Address{}, fmt.Errorf("%w: missing unix path", ErrInvalidFormat)
	}

	addr := Address{family: FamilyUnix}
	switch {
	case body[0] == '@':
		addr.abstract = true
		addr.path = body[1:]
		if addr.path == "" {
			return Address{}, fmt.Errorf("%w: empty abstract name", ErrInvalidFormat)
		}
	case body[0] == '/':
		addr.path = body
	default:
		addr.path = UnixDir + "/" + body
	}

	if len(addr.path) > maxUnixPath {
		return Address{}, fmt.Errorf("%w: unix path too long", ErrInvalidFormat)
	}
	return addr, nil
}

func parseInet(family Family, body string) (Address, error) {
	i := strings.LastIndexByte(body, ':')
	if i < 0 {
		return Address{}, fmt.Errorf("%w: missing port", ErrInvalidFormat)
	}
	host, portText := body[:i], body[i+1:]
	if family == FamilyInet6 && len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w: missing host", ErrInvalidFormat)
	}
	if portText == "" {
		return Address{}, fmt.Errorf("%w: missing port", ErrInvalidFormat)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad host %q", ErrInvalidFormat, host)
	}
	if ip.Zone() != "" {
		return Address{}, fmt.Errorf("%w: zoned addresses are not supported", ErrInvalidFormat)
	}
	if (family == FamilyInet) != ip.Is4() {
		return Address{}, fmt.Errorf("%w: %q is not a valid %s host", ErrInvalidFormat, host, family)
	}

	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidFormat, portText)
	}

	addr := Address{family: family, port: uint16(port)}
	if family == FamilyInet {
		b := ip.As4()
		copy(addr.ip[:], b[:])
	} else {
		addr.ip = ip.As16()
	}
	return addr, nil
}

// FromSockaddr converts an address returned by the kernel (accept,
// recvfrom, getsockname) into an Address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		addr := Address{family: FamilyInet, port: uint16(sa.Port)}
		copy(addr.ip[:], sa.Addr[:])
		return addr, nil
	case *unix.SockaddrInet6:
		return Address{family: FamilyInet6, port: uint16(sa.Port), ip: sa.Addr}, nil
	case *unix.SockaddrUnix:
		addr := Address{family: FamilyUnix, path: sa.Name}
		if sa.Name == "" || sa.Name == "@" {
			// unnamed, x/sys reports an autobind-less peer as "@"
			addr.path = ""
			return addr, nil
		}
		if strings.HasPrefix(sa.Name, "@") {
			addr.abstract = true
			addr.path = sa.Name[1:]
		}
		return addr, nil
	default:
		return Address{}, fmt.Errorf("%w: %T", ErrUnsupportedFamily, sa)
	}
}

// Family returns the protocol family, FamilyUnspec for the zero Address.
func (a Address) Family() Family { return a.family }

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.family == FamilyUnspec }

// IsAbstract reports whether a is a unix address in the abstract namespace.
func (a Address) IsAbstract() bool { return a.abstract }

// IsUnnamed reports whether a is a unix address with neither a path nor an
// abstract name, such as the peer of an unbound client socket.
func (a Address) IsUnnamed() bool {
	return a.family == FamilyUnix && !a.abstract && a.path == ""
}

// Path returns the filesystem path (or abstract name, without the leading
// '@') of a unix address.
func (a Address) Path() string { return a.path }

// Port returns the port of an inet or inet6 address.
func (a Address) Port() int { return int(a.port) }

// IP returns the host of an inet or inet6 address, or the zero netip.Addr.
func (a Address) IP() netip.Addr {
	switch a.family {
	case FamilyInet:
		return netip.AddrFrom4([4]byte(a.ip[:4]))
	case FamilyInet6:
		return netip.AddrFrom16(a.ip)
	default:
		return netip.Addr{}
	}
}

// Sockaddr returns a freshly allocated unix.Sockaddr for a, or nil for the
// zero Address. The abstract namespace is expressed using the leading '@'
// convention understood by golang.org/x/sys/unix.
func (a Address) Sockaddr() unix.Sockaddr {
	switch a.family {
	case FamilyUnix:
		if a.abstract {
			return &unix.SockaddrUnix{Name: "@" + a.path}
		}
		return &unix.SockaddrUnix{Name: a.path}
	case FamilyInet:
		return &unix.SockaddrInet4{Port: int(a.port), Addr: [4]byte(a.ip[:4])}
	case FamilyInet6:
		return &unix.SockaddrInet6{Port: int(a.port), Addr: a.ip}
	default:
		return nil
	}
}

// Len returns the length of the wire (struct sockaddr) representation.
// Unix addresses follow SUN_LEN, abstract names count the leading NUL.
func (a Address) Len() int {
	switch a.family {
	case FamilyUnix:
		n := 2 + len(a.path)
		if a.abstract {
			n++
		}
		return n
	case FamilyInet:
		return unix.SizeofSockaddrInet4
	case FamilyInet6:
		return unix.SizeofSockaddrInet6
	default:
		return 0
	}
}

// String formats a in the text form accepted by Parse. The exceptions are
// the zero Address, which formats as "", and an unnamed unix address, which
// formats as "unix:" and has no text form Parse accepts.
func (a Address) String() string {
	switch a.family {
	case FamilyUnix:
		if a.abstract {
			return "unix:@" + a.path
		}
		return "unix:" + a.path
	case FamilyInet, FamilyInet6:
		return a.family.String() + ":" + a.IP().String() + ":" + strconv.Itoa(int(a.port))
	default:
		return ""
	}
}
