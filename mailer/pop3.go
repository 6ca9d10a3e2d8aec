package mailer

import (
	"crypto/md5"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"mailbridge/models"
	"mailbridge/utils"
)

// InboxMailbox is the single implicit POP3 mailbox.
const InboxMailbox = "INBOX"

// POP3Client is a single-session POP3 adapter. POP3 has neither stable UIDs
// nor flags, so the adapter derives stable synthetic UIDs from UIDL
// identifier strings and always reports messages as unread/unstarred.
type POP3Client struct {
	conn       net.Conn
	text       *textproto.Conn
	host       string
	cmdTimeout time.Duration
}

// DialPOP3 connects and authenticates. The transport supports implicit TLS
// and plaintext only: a STARTTLS profile is served over implicit TLS with a
// logged warning rather than a silent equivalence.
func DialPOP3(profile *models.ConnectionProfile, dialTimeout, cmdTimeout time.Duration) (*POP3Client, error) {
	addr := profile.Addr()

	security := profile.Security
	if security == models.SecurityStartTLS {
		utils.Log.WithField("host", profile.Host).
			Warn("POP3 STARTTLS is not supported; substituting implicit TLS")
		security = models.SecuritySSL
	}

	var conn net.Conn
	var err error
	if security == models.SecuritySSL {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, nil)
	} else {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	}
	if err != nil {
		return nil, utils.TransientError(
			fmt.Sprintf("failed to connect to POP3 server %s", addr), err)
	}

	c := &POP3Client{
		conn:       conn,
		text:       textproto.NewConn(conn),
		host:       profile.Host,
		cmdTimeout: cmdTimeout,
	}

	// Server greeting.
	if _, err := c.readResponse(); err != nil {
		c.Close()
		return nil, utils.TransientError(
			fmt.Sprintf("POP3 greeting failed from %s", addr), err)
	}

	if _, err := c.command("USER %s", profile.Username); err != nil {
		c.Close()
		return nil, utils.TransientError(
			fmt.Sprintf("POP3 login failed for %s", profile.Username), err)
	}
	if _, err := c.command("PASS %s", profile.Password); err != nil {
		c.Close()
		return nil, utils.TransientError(
			fmt.Sprintf("POP3 login failed for %s", profile.Username), err)
	}

	return c, nil
}

// Close sends QUIT and tears the connection down. Cleanup errors are
// swallowed and logged.
func (c *POP3Client) Close() {
	if c.conn == nil {
		return
	}
	if _, err := c.command("QUIT"); err != nil {
		utils.Log.WithError(err).WithField("host", c.host).Debug("POP3 quit failed")
	}
	if err := c.conn.Close(); err != nil {
		utils.Log.WithError(err).WithField("host", c.host).Debug("POP3 close failed")
	}
	c.conn = nil
}

// Stat returns the message count reported by the server.
func (c *POP3Client) Stat() (int, error) {
	resp, err := c.command("STAT")
	if err != nil {
		return 0, utils.ServiceError("POP3 STAT failed", err)
	}

	fields := strings.Fields(resp)
	if len(fields) < 1 {
		return 0, utils.ServiceError("POP3 STAT returned no message count", nil)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, utils.ServiceError("POP3 STAT returned a malformed count", err)
	}
	return count, nil
}

// ListIdentifiers issues UIDL and returns the normalized, ordered
// (messageNumber, identifier) listing.
func (c *POP3Client) ListIdentifiers() ([]UIDLEntry, error) {
	if _, err := c.command("UIDL"); err != nil {
		return nil, utils.ServiceError("POP3 UIDL failed", err)
	}

	c.extendDeadline()
	var lines []string
	for {
		line, err := c.text.ReadLine()
		if err != nil {
			return nil, utils.ServiceError("POP3 UIDL response truncated", err)
		}
		if line == "." {
			break
		}
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}

	entries, err := NormalizeUIDL(UIDLLines(lines))
	if err != nil {
		return nil, utils.ServiceError("POP3 UIDL response unparseable", err)
	}
	return entries, nil
}

// Retrieve fetches the full source of one message by its current number.
func (c *POP3Client) Retrieve(number int) ([]byte, error) {
	if _, err := c.command("RETR %d", number); err != nil {
		return nil, utils.ServiceError(
			fmt.Sprintf("POP3 RETR %d failed", number), err)
	}

	c.extendDeadline()
	var raw []byte
	for {
		line, err := c.text.ReadLineBytes()
		if err != nil {
			return nil, utils.ServiceError(
				fmt.Sprintf("POP3 RETR %d response truncated", number), err)
		}
		if len(line) == 1 && line[0] == '.' {
			break
		}
		// Dot-stuffing: a leading ".." encodes a literal dot.
		if len(line) >= 2 && line[0] == '.' && line[1] == '.' {
			line = line[1:]
		}
		raw = append(raw, line...)
		raw = append(raw, '\r', '\n')
	}
	return raw, nil
}

// Fetch retrieves the requested newest-first page of whole messages. POP3
// message numbers shift across sessions, so derived UIDs carry identity; an
// incremental cursor cannot bound the listing and the newest page is
// re-fetched instead, with the cache upsert keeping overlap idempotent.
func (c *POP3Client) Fetch(opts FetchOptions) (*FetchResult, error) {
	count, err := c.Stat()
	if err != nil {
		return nil, err
	}

	result := &FetchResult{TotalOnServer: uint32(count)}
	if count == 0 {
		return result, nil
	}

	entries, err := c.ListIdentifiers()
	if err != nil {
		return nil, err
	}

	page := pageSlice(entries, opts.Page, opts.Limit)

	batch := make([]rawMail, 0, len(page))
	for _, entry := range page {
		raw, err := c.Retrieve(entry.Number)
		if err != nil {
			utils.Log.WithError(err).
				WithField("number", entry.Number).
				WithField("host", c.host).
				Warn("skipping unretrievable message")
			continue
		}
		batch = append(batch, rawMail{UID: DeriveUID(entry.ID), Source: raw})
	}

	// Flags stay unread/unstarred: POP3 cannot report them, so they are
	// never authoritative.
	result.Mails = normalizeBatch(batch, opts.AccountCode, InboxMailbox, time.Now())
	result.Fetched = len(result.Mails)
	return result, nil
}

// DeriveUID computes a deterministic synthetic UID from a UIDL identifier
// string: the first 4 bytes of its MD5 digest, big-endian. Identifier
// strings are stable across sessions where message numbers are not; the
// residual 32-bit collision risk is an accepted tradeoff.
func DeriveUID(identifier string) uint32 {
	sum := md5.Sum([]byte(identifier))
	return binary.BigEndian.Uint32(sum[:4])
}

// UIDLResponse is one of the wire shapes a UIDL listing arrives in. Servers
// and intermediaries have been observed producing a line-oriented text
// block, a list of (number, identifier) pairs, or a map from message number
// to identifier; each shape has exactly one parse case.
type UIDLResponse interface {
	uidlResponse()
}

// UIDLLines is the line-oriented shape: "number identifier" per line.
type UIDLLines []string

// UIDLPairs is the pre-split pair shape.
type UIDLPairs [][2]string

// UIDLMap is the number-to-identifier map shape.
type UIDLMap map[int]string

func (UIDLLines) uidlResponse() {}
func (UIDLPairs) uidlResponse() {}
func (UIDLMap) uidlResponse()   {}

// UIDLEntry is one normalized listing entry.
type UIDLEntry struct {
	Number int
	ID     string
}

// NormalizeUIDL converts any supported UIDL wire shape into an ordered
// (messageNumber, identifier) list, ascending by message number.
func NormalizeUIDL(resp UIDLResponse) ([]UIDLEntry, error) {
	var entries []UIDLEntry

	switch r := resp.(type) {
	case UIDLLines:
		for _, line := range r {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed UIDL line %q", line)
			}
			number, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("malformed UIDL message number %q", fields[0])
			}
			entries = append(entries, UIDLEntry{Number: number, ID: fields[1]})
		}

	case UIDLPairs:
		for _, pair := range r {
			number, err := strconv.Atoi(strings.TrimSpace(pair[0]))
			if err != nil {
				return nil, fmt.Errorf("malformed UIDL message number %q", pair[0])
			}
			entries = append(entries, UIDLEntry{Number: number, ID: strings.TrimSpace(pair[1])})
		}

	case UIDLMap:
		for number, id := range r {
			entries = append(entries, UIDLEntry{Number: number, ID: id})
		}

	default:
		return nil, fmt.Errorf("unsupported UIDL response shape %T", resp)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Number < entries[j].Number
	})
	return entries, nil
}

// pageSlice selects the newest page out of an ascending listing:
// entries[max(0,total-page*limit) : total-(page-1)*limit], newest first.
func pageSlice(entries []UIDLEntry, page, limit int) []UIDLEntry {
	total := len(entries)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	hi := total - (page-1)*limit
	if hi < 0 {
		hi = 0
	}
	lo := total - page*limit
	if lo < 0 {
		lo = 0
	}
	if lo > hi {
		lo = hi
	}

	window := entries[lo:hi]
	out := make([]UIDLEntry, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		out = append(out, window[i])
	}
	return out
}

// command sends one command line and reads its single-line status response.
func (c *POP3Client) command(format string, args ...interface{}) (string, error) {
	c.extendDeadline()
	if err := c.text.PrintfLine(format, args...); err != nil {
		return "", err
	}
	return c.readResponse()
}

// readResponse reads one status line, failing on -ERR.
func (c *POP3Client) readResponse() (string, error) {
	c.extendDeadline()
	line, err := c.text.ReadLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "+OK") {
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	}
	return "", fmt.Errorf("server error: %s", strings.TrimSpace(strings.TrimPrefix(line, "-ERR")))
}

func (c *POP3Client) extendDeadline() {
	if c.cmdTimeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.cmdTimeout))
	}
}
