// Package protocol implements the FlashDB line protocol: one space-delimited
// command per line, one reply per line, both terminated by a single '\n'.
//
// Keys and values travel percent-encoded (URL path-segment escaping), so an
// encoded argument never contains a space, newline, comma or parenthesis and
// arbitrary payloads such as JSON documents survive the round trip.
package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/adeilh/flashdb/cache"
)

// Op names a protocol command.
type Op string

const (
	OpSet  Op = "SET"
	OpGet  Op = "GET"
	OpDel  Op = "DEL"
	OpAll  Op = "ALL"
	OpPing Op = "PING"
)

// argCount is the number of space separated fields, op included.
var argCount = map[Op]int{
	OpSet:  4,
	OpGet:  2,
	OpDel:  2,
	OpAll:  1,
	OpPing: 1,
}

// Command is a decoded request line.
type Command struct {
	Op    Op
	Key   string
	Value string
	// TTL in whole seconds; zero disables expiry. Only used by SET.
	TTL int64
}

// Set builds a SET command; ttlSeconds of zero stores the value without expiry.
func Set(key, value string, ttlSeconds int64) Command {
	return Command{Op: OpSet, Key: key, Value: value, TTL: ttlSeconds}
}

func Get(key string) Command { return Command{Op: OpGet, Key: key} }

func Del(key string) Command { return Command{Op: OpDel, Key: key} }

func All() Command { return Command{Op: OpAll} }

func Ping() Command { return Command{Op: OpPing} }

// Validate reports argument errors as *cache.ProtocolError.
func (c Command) Validate() error {
	if _, ok := argCount[c.Op]; !ok {
		return &cache.ProtocolError{Op: string(c.Op), Msg: "unknown command"}
	}
	switch c.Op {
	case OpSet, OpGet, OpDel:
		if err := cache.ValidateKey(c.Key); err != nil {
			return &cache.ProtocolError{Op: string(c.Op), Msg: "missing key", Err: err}
		}
	}
	if c.Op == OpSet && c.TTL < 0 {
		return &cache.ProtocolError{Op: string(c.Op), Msg: "negative ttl", Err: cache.ErrInvalidTTL}
	}
	return nil
}

// Encode renders the command as one '\n' terminated line. Invalid commands
// are rejected before anything is produced.
func (c Command) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(string(c.Op))
	switch c.Op {
	case OpSet:
		b.WriteByte(' ')
		b.WriteString(Escape(c.Key))
		b.WriteByte(' ')
		b.WriteString(Escape(c.Value))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(c.TTL, 10))
	case OpGet, OpDel:
		b.WriteByte(' ')
		b.WriteString(Escape(c.Key))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// ParseCommand decodes a request line as read by ReadLine (terminator removed).
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Command{}, &cache.ProtocolError{Op: "?", Msg: "empty command"}
	}
	parts := strings.Split(line, " ")
	op := Op(strings.ToUpper(parts[0]))
	want, ok := argCount[op]
	if !ok {
		return Command{}, &cache.ProtocolError{Op: parts[0], Msg: "unknown command"}
	}
	if len(parts) != want {
		return Command{}, &cache.ProtocolError{
			Op:  string(op),
			Msg: fmt.Sprintf("wrong number of arguments: got %d, want %d", len(parts)-1, want-1),
		}
	}

	cmd := Command{Op: op}
	var err error
	switch op {
	case OpSet:
		if cmd.Key, err = unescapeArg(op, "key", parts[1]); err != nil {
			return Command{}, err
		}
		if cmd.Value, err = unescapeArg(op, "value", parts[2]); err != nil {
			return Command{}, err
		}
		ttl, perr := strconv.ParseInt(parts[3], 10, 64)
		if perr != nil {
			return Command{}, &cache.ProtocolError{Op: string(op), Msg: "invalid ttl " + strconv.Quote(parts[3]), Err: cache.ErrInvalidTTL}
		}
		cmd.TTL = ttl
	case OpGet, OpDel:
		if cmd.Key, err = unescapeArg(op, "key", parts[1]); err != nil {
			return Command{}, err
		}
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Escape percent-encodes s into the protocol's delimiter-safe alphabet.
func Escape(s string) string { return url.PathEscape(s) }

// Unescape reverses Escape.
func Unescape(s string) (string, error) { return url.PathUnescape(s) }

func unescapeArg(op Op, field, raw string) (string, error) {
	v, err := Unescape(raw)
	if err != nil {
		return "", &cache.ProtocolError{Op: string(op), Msg: "malformed " + field, Err: err}
	}
	return v, nil
}
