package mcpeek_test

import (
	"errors"
	"testing"

	"github.com/MegaGrindStone/mcpeek"
	"github.com/google/go-cmp/cmp"
)

func TestSplitCommand(t *testing.T) {
	testCases := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{
			name:    "plain words",
			command: "npx -y some-server",
			want:    []string{"npx", "-y", "some-server"},
		},
		{
			name:    "double quoted argument with spaces",
			command: `server --root "/My Documents"`,
			want:    []string{"server", "--root", "/My Documents"},
		},
		{
			name:    "single quotes preserve everything",
			command: `sh -c 'echo "hi there"'`,
			want:    []string{"sh", "-c", `echo "hi there"`},
		},
		{
			name:    "backslash escapes a space",
			command: `server /tmp/my\ dir`,
			want:    []string{"server", "/tmp/my dir"},
		},
		{
			name:    "escaped quote inside double quotes",
			command: `server "a \"b\" c"`,
			want:    []string{"server", `a "b" c`},
		},
		{
			name:    "empty quoted argument survives",
			command: `server '' last`,
			want:    []string{"server", "", "last"},
		},
		{
			name:    "collapses repeated whitespace",
			command: "server   \t  run",
			want:    []string{"server", "run"},
		},
		{
			name:    "unterminated quote",
			command: `server "unfinished`,
			wantErr: true,
		},
		{
			name:    "trailing backslash",
			command: `server \`,
			wantErr: true,
		},
		{
			name:    "empty command",
			command: "   ",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mcpeek.SplitCommand(tc.command)
			if tc.wantErr {
				var valErr *mcpeek.ValidationError
				if !errors.As(err, &valErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewTransportSelectsVariant(t *testing.T) {
	transport, err := mcpeek.NewTransport(mcpeek.Endpoint{Raw: "https://example.com/rpc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := transport.(*mcpeek.HTTPTransport); !ok {
		t.Errorf("expected HTTPTransport for URL, got %T", transport)
	}

	transport, err = mcpeek.NewTransport(mcpeek.Endpoint{Raw: "npx -y some-server"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := transport.(*mcpeek.StdIOTransport); !ok {
		t.Errorf("expected StdIOTransport for command, got %T", transport)
	}

	if _, err := mcpeek.NewTransport(mcpeek.Endpoint{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
