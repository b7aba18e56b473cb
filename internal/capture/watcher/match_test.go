package watcher

import "testing"

func TestMatch(t *testing.T) {
	patterns := []string{"*.wav", "*.m4a"}

	tests := []struct {
		name string
		want bool
	}{
		{"idea.wav", true},
		{"IDEA.WAV", true},
		{"memo.M4a", true},
		{"notes.txt", false},
		{".idea.wav", false},
		{".syncthing.idea.wav.tmp", false},
		{"idea.wav.failed", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.name, patterns); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if !Match("anything", nil) {
		t.Error("expected empty pattern list to match visible names")
	}
}
