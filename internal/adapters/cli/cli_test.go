package cli

import (
	"strings"
	"testing"

	"telegram-terminal/internal/domain/commands"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantCmd  string
		wantArgs string
	}{
		{name: "bare command", input: "whoami", wantCmd: "whoami"},
		{name: "command with args", input: "send @alice hello there", wantCmd: "send", wantArgs: "@alice hello there"},
		{name: "surrounding spaces", input: "  dialogs refresh  ", wantCmd: "dialogs", wantArgs: "refresh"},
		{name: "empty", input: "   "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmd, args := splitCommand(tc.input)
			if cmd != tc.wantCmd || args != tc.wantArgs {
				t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)",
					tc.input, cmd, args, tc.wantCmd, tc.wantArgs)
			}
		})
	}
}

func TestParseSendArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     string
		wantPeer string
		wantText string
		wantOK   bool
	}{
		{name: "username and text", args: "@alice hello there", wantPeer: "@alice", wantText: "hello there", wantOK: true},
		{name: "numeric id", args: "101 ping", wantPeer: "101", wantText: "ping", wantOK: true},
		{name: "text keeps inner spaces", args: "+79990000000 one  two", wantPeer: "+79990000000", wantText: "one  two", wantOK: true},
		{name: "missing text", args: "@alice"},
		{name: "empty", args: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			peer, text, ok := parseSendArgs(tc.args)
			if ok != tc.wantOK {
				t.Fatalf("parseSendArgs(%q) ok = %v, want %v", tc.args, ok, tc.wantOK)
			}
			if peer != tc.wantPeer || text != tc.wantText {
				t.Errorf("parseSendArgs(%q) = (%q, %q), want (%q, %q)",
					tc.args, peer, text, tc.wantPeer, tc.wantText)
			}
		})
	}
}

func TestParseDumpArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   string
		wantOK bool
	}{
		{name: "valid", args: "@alice 42", wantOK: true},
		{name: "negative id", args: "@alice -1"},
		{name: "zero id", args: "@alice 0"},
		{name: "not a number", args: "@alice forty"},
		{name: "too few fields", args: "@alice"},
		{name: "too many fields", args: "@alice 42 extra"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, ok := parseDumpArgs(tc.args)
			if ok != tc.wantOK {
				t.Errorf("parseDumpArgs(%q) ok = %v, want %v", tc.args, ok, tc.wantOK)
			}
		})
	}
}

func TestFormatDialogLine(t *testing.T) {
	t.Parallel()

	withUsername := commands.Dialog{ID: 1, Kind: "user", Title: "Alice Liddell", Username: "alice"}
	if got := formatDialogLine(withUsername); got != "User: 'Alice Liddell' (@alice) id: 1" {
		t.Errorf("formatDialogLine() = %q", got)
	}

	withoutUsername := commands.Dialog{ID: 2, Kind: "chat", Title: "Tea Party", Username: "-"}
	if got := formatDialogLine(withoutUsername); got != "Chat: 'Tea Party' id: 2" {
		t.Errorf("formatDialogLine() = %q", got)
	}
}

func TestBuildCommandHelpLines(t *testing.T) {
	t.Parallel()

	lines := buildCommandHelpLines(commandDescriptors)
	if len(lines) != len(commandDescriptors)+1 {
		t.Fatalf("len(lines) = %d, want %d", len(lines), len(commandDescriptors)+1)
	}
	if lines[0] != "Available commands:" {
		t.Errorf("header = %q", lines[0])
	}
	for i, descriptor := range commandDescriptors {
		if !strings.Contains(lines[i+1], descriptor.name) {
			t.Errorf("line %d = %q, want command %q mentioned", i+1, lines[i+1], descriptor.name)
		}
	}
}
