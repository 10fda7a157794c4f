package protocol

import (
	"errors"
	"strings"

	"github.com/adeilh/flashdb/cache"
)

// Reply lines with a fixed meaning. None of them can be produced by Escape.
const (
	StatusOK       = "OK"
	StatusNil      = "(nil)"
	StatusDeleted  = "DELETED"
	StatusNotFound = "NOT_FOUND"
	StatusPong     = "PONG"

	errPrefix     = "ERR "
	keysSeparator = ","
)

// Reply is the decoded answer to a single command.
type Reply struct {
	Op Op
	// Found is true when GET returned a value or DEL removed a live entry.
	Found bool
	Value string
	Keys  []string
	// Err carries a server-side rejection message.
	Err string
}

// ErrorReply builds the reply sent when the server refuses a command.
func ErrorReply(op Op, err error) Reply {
	return Reply{Op: op, Err: err.Error()}
}

// Encode renders the reply as one '\n' terminated line.
func (r Reply) Encode() []byte {
	var line string
	switch {
	case r.Err != "":
		line = errPrefix + strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Err)
	case r.Op == OpSet:
		line = StatusOK
	case r.Op == OpGet && r.Found:
		line = Escape(r.Value)
	case r.Op == OpGet:
		line = StatusNil
	case r.Op == OpDel && r.Found:
		line = StatusDeleted
	case r.Op == OpDel:
		line = StatusNotFound
	case r.Op == OpAll:
		escaped := make([]string, len(r.Keys))
		for i, k := range r.Keys {
			escaped[i] = Escape(k)
		}
		line = strings.Join(escaped, keysSeparator)
	case r.Op == OpPing:
		line = StatusPong
	default:
		line = errPrefix + "unknown command"
	}
	return []byte(line + "\n")
}

// DecodeReply interprets a reply line for the command op it answers. Server
// rejections and replies that do not fit op are returned as *cache.ProtocolError.
func DecodeReply(op Op, line string) (Reply, error) {
	line = strings.TrimRight(line, "\r\n")
	reply := Reply{Op: op}

	if msg, ok := strings.CutPrefix(line, errPrefix); ok {
		reply.Err = msg
		return reply, &cache.ProtocolError{Op: string(op), Msg: "server rejected command", Err: errors.New(msg)}
	}

	switch op {
	case OpSet:
		if line == StatusOK {
			reply.Found = true
			return reply, nil
		}
	case OpGet:
		if line == StatusNil {
			return reply, nil
		}
		v, err := Unescape(line)
		if err != nil {
			return reply, &cache.ProtocolError{Op: string(op), Msg: "malformed value", Err: err}
		}
		reply.Found = true
		reply.Value = v
		return reply, nil
	case OpDel:
		switch line {
		case StatusDeleted:
			reply.Found = true
			return reply, nil
		case StatusNotFound:
			return reply, nil
		}
	case OpAll:
		return decodeKeys(reply, line)
	case OpPing:
		if line == StatusPong {
			reply.Found = true
			return reply, nil
		}
	}
	return reply, &cache.ProtocolError{Op: string(op), Msg: "unexpected reply " + quoteShort(line)}
}

func decodeKeys(reply Reply, line string) (Reply, error) {
	reply.Keys = []string{}
	if line == "" {
		return reply, nil
	}
	for _, raw := range strings.Split(line, keysSeparator) {
		if raw == "" {
			return reply, &cache.ProtocolError{Op: string(OpAll), Msg: "empty key in listing"}
		}
		k, err := Unescape(raw)
		if err != nil {
			return reply, &cache.ProtocolError{Op: string(OpAll), Msg: "malformed key", Err: err}
		}
		reply.Keys = append(reply.Keys, k)
	}
	return reply, nil
}

func quoteShort(s string) string {
	const max = 64
	if len(s) > max {
		s = s[:max] + "..."
	}
	return `"` + s + `"`
}
