package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tanmoy/chatdump/internal/api"
	"github.com/tanmoy/chatdump/internal/service"
	"github.com/tanmoy/chatdump/internal/store"
	"github.com/tanmoy/chatdump/pkg/models"
)

// fakeAPI implements service.API and download.Fetcher for command tests.
type fakeAPI struct {
	chats    []models.ChatSummary
	messages map[string][]models.Message
	greeting string
}

func (f *fakeAPI) ListChats(_ context.Context, limit, offset int) ([]models.ChatSummary, error) {
	return page(f.chats, limit, offset), nil
}

func (f *fakeAPI) ListMessages(_ context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	return page(f.messages[chatID], limit, offset), nil
}

func (f *fakeAPI) Character(_ context.Context, _ string) (string, string, error) {
	return "Aria", f.greeting, nil
}

func (f *fakeAPI) Download(_ context.Context, _ string) ([]byte, error) {
	return []byte("image-bytes"), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func testApp(t *testing.T, fake *fakeAPI) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	flagBaseURL = ""
	flagToken = ""
	flagVerbose = false

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	dbPath := filepath.Join(t.TempDir(), "test.db")

	app := &App{
		Out:    out,
		Err:    errOut,
		GetEnv: func(string) string { return "" },
		NewAPI: func(_ api.Config) service.API { return fake },
		NewStore: func() (*store.Store, error) {
			return store.NewWithPath(dbPath)
		},
	}
	return app, out, errOut
}

func fixture() *fakeAPI {
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return &fakeAPI{
		chats: []models.ChatSummary{
			{
				ID:        "c1",
				Title:     "First chat",
				CreatedAt: created,
				Characters: []models.CharacterRef{
					{ID: "ch1", Name: "Aria"},
				},
			},
		},
		messages: map[string][]models.Message{
			"c1": {
				{ID: "m1", CreatedAt: created, Text: "hello"},
				{ID: "m2", CreatedAt: created.Add(time.Minute), FromBot: true, Author: "Aria", Text: "hi",
					Generation: &models.GenerationSettings{
						Prompt:    "castle",
						ImageURLs: []string{"https://cdn.example.com/gen.jpg"},
					}},
			},
		},
		greeting: "Welcome.",
	}
}

func execute(app *App, args ...string) error {
	cmd := newRootCmd(app)
	cmd.SetArgs(args)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)
	return cmd.Execute()
}

func TestChatsCommand(t *testing.T) {
	app, out, _ := testApp(t, fixture())

	if err := execute(app, "chats"); err != nil {
		t.Fatalf("chats: %v", err)
	}
	if !strings.Contains(out.String(), "c1") || !strings.Contains(out.String(), "First chat") {
		t.Errorf("output missing chat row:\n%s", out.String())
	}
}

func TestChatsCommandWithCounts(t *testing.T) {
	app, out, _ := testApp(t, fixture())

	if err := execute(app, "chats", "--counts"); err != nil {
		t.Fatalf("chats --counts: %v", err)
	}
	if !strings.Contains(out.String(), "(1 images)") {
		t.Errorf("output missing image count:\n%s", out.String())
	}
}

func TestExportCommand(t *testing.T) {
	app, out, _ := testApp(t, fixture())
	dir := t.TempDir()

	cmd := newRootCmd(app)
	cmd.SetArgs([]string{"export", "c1", "-f", "json", "-o", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("wrote %d files, want 1", len(entries))
	}
	if !strings.HasSuffix(entries[0].Name(), ".json") {
		t.Errorf("file = %q, want .json", entries[0].Name())
	}

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "Welcome.") {
		t.Error("greeting missing from export")
	}
	if !strings.Contains(out.String(), "Exported 2 messages") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExportCommandDefaultOutputIsCwd(t *testing.T) {
	app, _, _ := testApp(t, fixture())
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWD); err != nil {
			t.Fatal(err)
		}
	})

	if err := execute(app, "export", "c1", "-f", "txt"); err != nil {
		t.Fatalf("export: %v", err)
	}

	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 1 || !strings.HasSuffix(names[0], ".txt") {
		t.Fatalf("cwd contents = %v, want a single .txt export", names)
	}
	if _, err := os.Stat("images"); !os.IsNotExist(err) {
		t.Error("export without -o must not write under images/")
	}
}

func TestExportCommandRejectsBadFormat(t *testing.T) {
	app, _, _ := testApp(t, fixture())

	err := execute(app, "export", "c1", "-f", "docx")
	if err == nil {
		t.Fatal("export accepted an unknown format")
	}
	if !strings.Contains(err.Error(), "docx") {
		t.Errorf("error = %v, should name the bad format", err)
	}
}

func TestExportCommandUnknownChat(t *testing.T) {
	app, _, _ := testApp(t, fixture())

	if err := execute(app, "export", "nope"); err == nil {
		t.Fatal("export succeeded for an unknown chat id")
	}
}

func TestImagesCommandLists(t *testing.T) {
	app, out, _ := testApp(t, fixture())

	if err := execute(app, "images", "c1"); err != nil {
		t.Fatalf("images: %v", err)
	}
	if !strings.Contains(out.String(), "https://cdn.example.com/gen.jpg") {
		t.Errorf("output missing image URL:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "1 images") {
		t.Errorf("output missing total:\n%s", out.String())
	}
}

func TestImagesCommandDownloads(t *testing.T) {
	app, out, _ := testApp(t, fixture())
	dir := t.TempDir()

	cmd := newRootCmd(app)
	cmd.SetArgs([]string{"images", "c1", "--download", "-o", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("images --download: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("downloaded %d files, want 1", len(entries))
	}
	if !strings.Contains(out.String(), "1 saved") {
		t.Errorf("summary missing:\n%s", out.String())
	}
}

func TestBookmarkCommands(t *testing.T) {
	app, out, _ := testApp(t, fixture())

	if err := execute(app, "bookmark", "add", "c1", "First chat"); err != nil {
		t.Fatalf("bookmark add: %v", err)
	}
	out.Reset()

	if err := execute(app, "bookmark", "list"); err != nil {
		t.Fatalf("bookmark list: %v", err)
	}
	if !strings.Contains(out.String(), "c1") {
		t.Errorf("list missing bookmark:\n%s", out.String())
	}
	out.Reset()

	if err := execute(app, "bookmark", "rm", "c1"); err != nil {
		t.Fatalf("bookmark rm: %v", err)
	}
	out.Reset()

	if err := execute(app, "bookmark", "list"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "c1") {
		t.Errorf("bookmark survived removal:\n%s", out.String())
	}
}

func TestPrefsCommands(t *testing.T) {
	app, out, _ := testApp(t, fixture())

	if err := execute(app, "prefs", "get", "auto_close"); err != nil {
		t.Fatalf("prefs get: %v", err)
	}
	if strings.TrimSpace(out.String()) != "false" {
		t.Errorf("default pref = %q, want false", out.String())
	}
	out.Reset()

	if err := execute(app, "prefs", "set", "auto_close", "true"); err != nil {
		t.Fatalf("prefs set: %v", err)
	}
	if err := execute(app, "prefs", "get", "auto_close"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "true" {
		t.Errorf("pref after set = %q, want true", out.String())
	}
}
