package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/infographer/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		token  string
		want   model.Credential
	}{
		{"plain", "SID=abc; HSID=def", "tok", model.Credential{Cookie: "SID=abc; HSID=def", ATToken: "tok"}},
		{"header prefix", "  Cookie: SID=abc ", " tok ", model.Credential{Cookie: "SID=abc", ATToken: "tok"}},
		{"lowercase prefix", "cookie:SID=abc", "tok", model.Credential{Cookie: "SID=abc", ATToken: "tok"}},
		{"double quoted", `"SID=abc"`, `"tok"`, model.Credential{Cookie: "SID=abc", ATToken: "tok"}},
		{"single quoted", `'SID=abc'`, `'tok'`, model.Credential{Cookie: "SID=abc", ATToken: "tok"}},
		{"mismatched quotes kept", `"SID=abc'`, `tok"`, model.Credential{Cookie: `"SID=abc'`, ATToken: `tok"`}},
		{"empty", "", "", model.Credential{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.cookie, tt.token))
		})
	}
}

func TestFileHolder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credential.json")
	h := NewFileHolder(path)

	_, err := h.GetCredential(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	want := model.Credential{Cookie: "SID=secret-cookie", ATToken: "secret-token"}
	require.NoError(t, h.SetCredential(ctx, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "secret-cookie"), "credential must not be stored in plain text")

	got, err := h.GetCredential(ctx)
	require.NoError(t, err)
	require.Equal(t, want, *got)

	// A second holder on the same file reads the same credential.
	got, err = NewFileHolder(path).GetCredential(ctx)
	require.NoError(t, err)
	require.Equal(t, want, *got)

	require.NoError(t, h.ClearCredential(ctx))
	require.NoError(t, h.ClearCredential(ctx))
	_, err = h.GetCredential(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestFileHolder_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"payload":"bm90LXNlYWxlZA=="}`), 0o600))

	_, err := NewFileHolder(path).GetCredential(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrNotFound)
}

func TestWatch_ReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func() { changed <- struct{}{} })
	}()

	h := NewFileHolder(path)
	// The watcher registers asynchronously; keep writing until it reports.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for seen := false; !seen; {
		select {
		case <-changed:
			seen = true
		case <-tick.C:
			require.NoError(t, h.SetCredential(ctx, model.Credential{Cookie: "c", ATToken: "t"}))
		case <-deadline:
			t.Fatal("no change reported for credential write")
		}
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
