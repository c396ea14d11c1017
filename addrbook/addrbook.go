package addrbook

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidAddress = errors.New("invalid peer address")

// AddressBook is an ordered set of peer addresses in host:port form.
type AddressBook struct {
	addrs []string
	seen  map[string]struct{}
}

func New() *AddressBook {
	return &AddressBook{seen: make(map[string]struct{})}
}

// FromAddrs builds a book from a list of addresses, failing on the first malformed one.
// `peers add` uses it to validate every argument before the book on disk is touched.
func FromAddrs(addrs []string) (*AddressBook, error) {
	book := New()
	for _, a := range addrs {
		if err := book.Add(a); err != nil {
			return nil, err
		}
	}
	return book, nil
}

// Load reads a book persisted by Save. A missing or unreadable file, or any
// malformed entry, is an error. An existing empty file yields an empty book.
func Load(path string) (*AddressBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read address book %s", path)
	}

	book := New()
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := book.Add(line); err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", path, lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan address book %s", path)
	}
	return book, nil
}

// ValidateAddr checks that addr is host:port with a usable port.
func ValidateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrapf(ErrInvalidAddress, "%q: %v", addr, err)
	}
	if host == "" {
		return errors.Wrapf(ErrInvalidAddress, "%q: empty host", addr)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return errors.Wrapf(ErrInvalidAddress, "%q: bad port", addr)
	}
	return nil
}

// Add appends addr unless it is already present.
func (b *AddressBook) Add(addr string) error {
	addr = strings.TrimSpace(addr)
	if err := ValidateAddr(addr); err != nil {
		return err
	}
	if _, ok := b.seen[addr]; ok {
		return nil
	}
	b.seen[addr] = struct{}{}
	b.addrs = append(b.addrs, addr)
	return nil
}

func (b *AddressBook) Len() int {
	return len(b.addrs)
}

func (b *AddressBook) IsEmpty() bool {
	return len(b.addrs) == 0
}

// Addrs returns a copy of the addresses in insertion order.
func (b *AddressBook) Addrs() []string {
	out := make([]string, len(b.addrs))
	copy(out, b.addrs)
	return out
}

// Save writes the book to path atomically.
func (b *AddressBook) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create address book directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, a := range b.addrs {
		fmt.Fprintln(w, a)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write address book")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync address book")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close address book")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to replace address book")
}
