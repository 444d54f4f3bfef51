package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("JOBLOG_REDIS", "redis://cache:6379/2")
	t.Setenv("JOBLOG_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "redis_url: ${JOBLOG_REDIS}", "redis_url: redis://cache:6379/2"},
		{"unset", "redis_url: ${JOBLOG_UNSET_12345}", "redis_url: "},
		{"default when unset", "path: ${JOBLOG_UNSET_12345:-./artifacts}", "path: ./artifacts"},
		{"default when empty", "path: ${JOBLOG_EMPTY:-./artifacts}", "path: ./artifacts"},
		{"default ignored when set", "url: ${JOBLOG_REDIS:-redis://localhost}", "url: redis://cache:6379/2"},
		{"required and set", "url: ${JOBLOG_REDIS:?redis is required}", "url: redis://cache:6379/2"},
		{"multiple", "${JOBLOG_REDIS}|${JOBLOG_UNSET_12345:-x}", "redis://cache:6379/2|x"},
		{"no references", "chunk_size: 131072", "chunk_size: 131072"},
		{"bare dollar untouched", "pattern: $HOME and $$", "pattern: $HOME and $$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("JOBLOG_EMPTY", "")

	input := `artifacts:
  gcs_credentials: ${JOBLOG_UNSET_12345:?service account key needed}
adapter:
  url: ${JOBLOG_EMPTY:?}`
	_, err := ExpandEnv(input)
	if err == nil {
		t.Fatal("expected an error for missing required variables")
	}
	for _, want := range []string{
		"${JOBLOG_UNSET_12345}: service account key needed",
		"${JOBLOG_EMPTY}: required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
