package agent

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
		wantErr bool
	}{
		{name: "default is claude", command: "", want: "claude"},
		{name: "claude", command: "claude", want: "claude"},
		{name: "codex", command: "codex", want: "codex"},
		{name: "unknown", command: "goose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := New(Config{Command: tt.command}, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) expected error, got %v", tt.command, inv)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) unexpected error: %v", tt.command, err)
			}
			if inv.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", inv.Name(), tt.want)
			}
		})
	}
}

func TestClaudeBuildArgs(t *testing.T) {
	base := NewClaudeInvoker(Config{}, nil)
	args := base.buildArgs()
	want := []string{"-p", "--output-format", "text"}
	if len(args) != len(want) {
		t.Fatalf("buildArgs() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}

	withModel := NewClaudeInvoker(Config{Model: "opus"}, nil)
	args = withModel.buildArgs()
	if args[len(args)-2] != "--model" || args[len(args)-1] != "opus" {
		t.Errorf("model override missing from args: %v", args)
	}
}

func TestParseCodexEvents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "single completed turn",
			input: `{"type":"turn.completed","content":"done"}`,
			want:  "done",
		},
		{
			name: "last turn wins",
			input: `{"type":"turn.completed","content":"first"}
{"type":"turn.completed","content":"second"}`,
			want: "second",
		},
		{
			name: "non-json noise skipped",
			input: `starting up...
{"type":"thread.started","thread_id":"t1"}
not json at all
{"type":"turn.completed","content":"result"}`,
			want: "result",
		},
		{
			name:    "no completed turn",
			input:   `{"type":"thread.started","thread_id":"t1"}`,
			wantErr: true,
		},
		{
			name:    "empty output",
			input:   "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCodexEvents([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionCommand(t *testing.T) {
	cmd := SessionCommand("claude", "/p/.tc/briefs/t1.md", "/p/.tc/logs/session-s1.log")
	for _, part := range []string{
		"claude -p --output-format text",
		`"/p/.tc/briefs/t1.md"`,
		`tee "/p/.tc/logs/session-s1.log"`,
		`echo "exit code: $?"`,
	} {
		if !strings.Contains(cmd, part) {
			t.Errorf("SessionCommand missing %q in %q", part, cmd)
		}
	}
}

func TestProcessManagerCount(t *testing.T) {
	pm := NewProcessManager()
	if pm.Count() != 0 {
		t.Fatalf("new manager tracks %d processes", pm.Count())
	}
	// Untracked nil-process commands are ignored.
	pm.Track(newCommand(t.Context(), "true"))
	if pm.Count() != 0 {
		t.Errorf("unstarted command was tracked")
	}
}
