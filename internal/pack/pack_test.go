package pack

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func exportInput() Input {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return Input{
		Task: types.Task{
			ID: "task1", TenantID: "t1", ContactID: "c1",
			Category: types.CategoryAccount, Subtype: types.SubtypeAddressChange,
			Priority: types.PriorityNormal, Status: types.StatusExecuted,
			Version: 3, CreatedAt: now, UpdatedAt: now,
		},
		Contact: &types.Contact{ID: "c1", TenantID: "t1", Name: "Alex Reed"},
		Actions: []types.TaskAction{
			{ID: "a1", TaskID: "task1", Type: types.ActionCreated, CreatedAt: now},
			{ID: "a2", TaskID: "task1", ActorID: "mgr1", Type: types.ActionApproved, CreatedAt: now},
		},
		Messages: []types.Message{
			{ID: "m1", TenantID: "t1", Channel: types.ChannelSMS, Direction: types.DirectionInbound, Body: "I moved", OccurredAt: now},
		},
		CreatedAt: now.Format(time.RFC3339),
	}
}

func TestBuildFiles(t *testing.T) {
	files, err := BuildFiles(exportInput())
	if err != nil {
		t.Fatalf("build files: %v", err)
	}

	for _, name := range []string{"task.json", "history.json", "messages.json", "contact.json", "summary.html", "manifest.json", "sha256sums.txt"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("missing %s, got %v", name, keys(files))
		}
	}

	var manifest Manifest
	if err := json.Unmarshal(files["manifest.json"], &manifest); err != nil {
		t.Fatalf("manifest not json: %v", err)
	}
	if manifest.Schema != ExportSchema || manifest.TaskID != "task1" || manifest.Status != "EXECUTED" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	// manifest covers everything except itself and the checksum file
	if len(manifest.Files) != len(files)-2 {
		t.Fatalf("manifest lists %d files, archive has %d", len(manifest.Files), len(files))
	}

	sums := string(files["sha256sums.txt"])
	for _, entry := range manifest.Files {
		sum := sha256.Sum256(files[entry.Name])
		want := "sha256:" + hex.EncodeToString(sum[:])
		if entry.SHA256 != want {
			t.Fatalf("manifest hash mismatch for %s", entry.Name)
		}
		if !strings.Contains(sums, entry.Name) {
			t.Fatalf("sha256sums missing %s", entry.Name)
		}
	}
	if strings.Contains(sums, "sha256sums.txt") {
		t.Fatalf("checksum file must not list itself")
	}
}

func TestBuildFilesWithoutContact(t *testing.T) {
	in := exportInput()
	in.Contact = nil
	files, err := BuildFiles(in)
	if err != nil {
		t.Fatalf("build files: %v", err)
	}
	if _, ok := files["contact.json"]; ok {
		t.Fatalf("contact.json present without a contact")
	}
}

func TestBuildFilesRequiresTask(t *testing.T) {
	if _, err := BuildFiles(Input{}); err == nil {
		t.Fatalf("expected error for missing task")
	}
}

func TestBuildZipRoundTrip(t *testing.T) {
	data, err := BuildZip(exportInput())
	if err != nil {
		t.Fatalf("build zip: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}

	var taskJSON []byte
	for _, f := range reader.File {
		if f.Name != "task.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		taskJSON, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
	}
	if taskJSON == nil {
		t.Fatalf("task.json not in zip")
	}

	var task types.Task
	if err := json.Unmarshal(taskJSON, &task); err != nil {
		t.Fatalf("task.json not json: %v", err)
	}
	if task.ID != "task1" {
		t.Fatalf("wrong task in export: %s", task.ID)
	}
}

func TestSummaryHTMLEscapes(t *testing.T) {
	in := exportInput()
	in.Messages[0].Body = `<script>alert("x")</script>`
	html, err := BuildSummary(in)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if bytes.Contains(html, []byte("<script>alert")) {
		t.Fatalf("message body not escaped")
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
