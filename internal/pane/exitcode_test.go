package pane

import "testing"

func TestParseExitCode(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
		wantOK bool
	}{
		{name: "clean exit", output: "some agent output\nexit code: 0", want: 0, wantOK: true},
		{name: "failure exit", output: "stack trace\nexit code: 1\n", want: 1, wantOK: true},
		{name: "marker mid-output uses last", output: "exit code: 1\nretrying\nexit code: 0", want: 0, wantOK: true},
		{name: "trailing prompt after marker", output: "exit code: 2\nuser@host $", want: 2, wantOK: true},
		{name: "no marker", output: "still running...", wantOK: false},
		{name: "garbled marker", output: "exit code: what", wantOK: false},
		{name: "empty", output: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseExitCode(tt.output)
			if ok != tt.wantOK {
				t.Fatalf("ParseExitCode(%q) ok = %v, want %v", tt.output, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseExitCode(%q) = %d, want %d", tt.output, got, tt.want)
			}
		})
	}
}
