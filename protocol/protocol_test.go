package protocol

import (
	"bufio"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/adeilh/flashdb/cache"
)

func TestCommandEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"set", Set("foo", "bar", 10), "SET foo bar 10\n"},
		{"set no ttl", Set("user:1", "x", 0), "SET user:1 x 0\n"},
		{"set escapes value", Set("k", `{"a": 1}`, 5), "SET k %7B%22a%22:%201%7D 5\n"},
		{"set empty value", Set("k", "", 0), "SET k  0\n"},
		{"get", Get("foo"), "GET foo\n"},
		{"del", Del("foo"), "DEL foo\n"},
		{"all", All(), "ALL\n"},
		{"ping", Ping(), "PING\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandEncodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"get without key", Get(""), cache.ErrEmptyKey},
		{"del without key", Del(""), cache.ErrEmptyKey},
		{"set without key", Set("", "v", 1), cache.ErrEmptyKey},
		{"negative ttl", Set("k", "v", -1), cache.ErrInvalidTTL},
		{"unknown op", Command{Op: "FLUSH"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.cmd.Encode()
			if out != nil {
				t.Fatalf("Encode() produced %q for an invalid command", out)
			}
			var perr *cache.ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *cache.ProtocolError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseCommandRoundTrip(t *testing.T) {
	payload := "{\"name\": \"Troy\",\n \"tags\": \"a,b (c) 100%\"}"
	cmds := []Command{
		Set("user:1:session", payload, 60),
		Set("with space", "", 0),
		Get("foo"),
		Del("(nil)"),
		All(),
		Ping(),
	}
	for _, cmd := range cmds {
		line, err := cmd.Encode()
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", cmd, err)
		}
		if strings.Count(string(line), "\n") != 1 {
			t.Fatalf("encoded line %q must contain exactly one newline", line)
		}
		got, err := ParseCommand(string(line))
		if err != nil {
			t.Fatalf("ParseCommand(%q) error = %v", line, err)
		}
		if got != cmd {
			t.Fatalf("ParseCommand() = %#v, want %#v", got, cmd)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	lines := []string{
		"",
		"FLUSHALL",
		"GET",
		"GET a b",
		"SET k v",
		"SET k v ten",
		"SET k v -3",
		"SET  v 3",
		"DEL %zz",
		"ALL extra",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := ParseCommand(line)
			var perr *cache.ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("ParseCommand(%q) error = %v, want *cache.ProtocolError", line, err)
			}
		})
	}
}

func TestParseCommandIsCaseInsensitive(t *testing.T) {
	cmd, err := ParseCommand("get foo\r\n")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Op != OpGet || cmd.Key != "foo" {
		t.Fatalf("unexpected command %#v", cmd)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	replies := []Reply{
		{Op: OpSet, Found: true},
		{Op: OpGet, Found: true, Value: "bar"},
		{Op: OpGet, Found: true, Value: ""},
		{Op: OpGet, Found: true, Value: "(nil)"},
		{Op: OpGet, Found: true, Value: "NOT_FOUND"},
		{Op: OpGet},
		{Op: OpDel, Found: true},
		{Op: OpDel},
		{Op: OpAll, Keys: []string{"a", "b,c", "user:1"}},
		{Op: OpAll, Keys: []string{}},
		{Op: OpPing, Found: true},
	}
	for _, want := range replies {
		line := want.Encode()
		got, err := DecodeReply(want.Op, string(line))
		if err != nil {
			t.Fatalf("DecodeReply(%q) error = %v", line, err)
		}
		if got.Found != want.Found || got.Value != want.Value || !slices.Equal(got.Keys, want.Keys) {
			t.Fatalf("DecodeReply(%q) = %#v, want %#v", line, got, want)
		}
	}
}

func TestReplyWireFormat(t *testing.T) {
	tests := []struct {
		reply Reply
		want  string
	}{
		{Reply{Op: OpSet, Found: true}, "OK\n"},
		{Reply{Op: OpGet}, "(nil)\n"},
		{Reply{Op: OpDel, Found: true}, "DELETED\n"},
		{Reply{Op: OpDel}, "NOT_FOUND\n"},
		{Reply{Op: OpAll, Keys: []string{"a", "b"}}, "a,b\n"},
		{Reply{Op: OpAll}, "\n"},
		{ErrorReply(OpSet, errors.New("bad\nttl")), "ERR bad ttl\n"},
	}
	for _, tt := range tests {
		if got := string(tt.reply.Encode()); got != tt.want {
			t.Fatalf("Encode() = %q, want %q", got, tt.want)
		}
	}
}

func TestDecodeReplyErrors(t *testing.T) {
	tests := []struct {
		op   Op
		line string
	}{
		{OpSet, "ERR unknown command"},
		{OpSet, "DELETED"},
		{OpDel, "OK"},
		{OpGet, "%zz"},
		{OpAll, "a,,b"},
		{OpPing, "OK"},
	}
	for _, tt := range tests {
		_, err := DecodeReply(tt.op, tt.line)
		var perr *cache.ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("DecodeReply(%s, %q) error = %v, want *cache.ProtocolError", tt.op, tt.line, err)
		}
	}
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("OK\r\nsecond\npartial"), 16)

	line, err := ReadLine(r, 0)
	if err != nil || line != "OK" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}
	line, err = ReadLine(r, 0)
	if err != nil || line != "second" {
		t.Fatalf("ReadLine() = %q, %v", line, err)
	}
	if _, err = ReadLine(r, 0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF for partial line, got %v", err)
	}
}

func TestReadLineCleanEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	if _, err := ReadLine(r, 0); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadLineTooLong(t *testing.T) {
	long := strings.Repeat("x", 100) + "\n"
	r := bufio.NewReaderSize(strings.NewReader(long), 16)
	if _, err := ReadLine(r, 50); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}
