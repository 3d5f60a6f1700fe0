// Package pack builds the downloadable evidence bundle for a task: the task
// record, its full ledger history, the communication trail and a checksummed
// manifest, zipped for handoff to auditors or support escalations.
package pack

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

const ExportSchema = "vinagent.task-export.v1"

type Input struct {
	Task      types.Task
	Contact   *types.Contact
	Actions   []types.TaskAction
	Messages  []types.Message
	CreatedAt string
}

// FileEntry describes one file inside the bundle.
type FileEntry struct {
	Name      string `json:"name"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest is the bundle's self-description. Verifiers recompute the hashes
// against sha256sums.txt and this list.
type Manifest struct {
	Schema    string      `json:"schema"`
	CreatedAt string      `json:"created_at"`
	TaskID    string      `json:"task_id"`
	TenantID  string      `json:"tenant_id"`
	Status    string      `json:"status"`
	Files     []FileEntry `json:"files"`
}

func BuildZip(input Input) ([]byte, error) {
	files, err := BuildFiles(input)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(nil)
	if err := WriteZip(buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func BuildFiles(input Input) (map[string][]byte, error) {
	if input.Task.ID == "" {
		return nil, fmt.Errorf("task missing")
	}

	taskJSON, err := json.MarshalIndent(input.Task, "", "  ")
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.MarshalIndent(orEmptyActions(input.Actions), "", "  ")
	if err != nil {
		return nil, err
	}
	messagesJSON, err := json.MarshalIndent(orEmptyMessages(input.Messages), "", "  ")
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		"task.json":     append(taskJSON, '\n'),
		"history.json":  append(historyJSON, '\n'),
		"messages.json": append(messagesJSON, '\n'),
	}

	if input.Contact != nil {
		contactJSON, err := json.MarshalIndent(input.Contact, "", "  ")
		if err != nil {
			return nil, err
		}
		files["contact.json"] = append(contactJSON, '\n')
	}

	summaryHTML, err := BuildSummary(input)
	if err != nil {
		return nil, err
	}
	files["summary.html"] = append(summaryHTML, '\n')

	createdAt := input.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	manifest := Manifest{
		Schema:    ExportSchema,
		CreatedAt: createdAt,
		TaskID:    input.Task.ID,
		TenantID:  input.Task.TenantID,
		Status:    string(input.Task.Status),
		Files:     buildFileEntries(files),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	files["manifest.json"] = append(manifestJSON, '\n')

	files["sha256sums.txt"] = buildChecksums(files)
	return files, nil
}

func orEmptyActions(a []types.TaskAction) []types.TaskAction {
	if a == nil {
		return []types.TaskAction{}
	}
	return a
}

func orEmptyMessages(m []types.Message) []types.Message {
	if m == nil {
		return []types.Message{}
	}
	return m
}

func buildFileEntries(files map[string][]byte) []FileEntry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]FileEntry, 0, len(names))
	for _, name := range names {
		sum := sha256.Sum256(files[name])
		entries = append(entries, FileEntry{
			Name:      name,
			SHA256:    "sha256:" + hex.EncodeToString(sum[:]),
			SizeBytes: int64(len(files[name])),
		})
	}
	return entries
}

func buildChecksums(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		if name == "sha256sums.txt" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		sum := sha256.Sum256(files[name])
		_, _ = fmt.Fprintf(&buf, "sha256:%s  %s\n", hex.EncodeToString(sum[:]), name)
	}
	return buf.Bytes()
}

func WriteZip(w io.Writer, files map[string][]byte) error {
	writer := zip.NewWriter(w)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry, err := writer.Create(name)
		if err != nil {
			_ = writer.Close()
			return err
		}
		if _, err := entry.Write(files[name]); err != nil {
			_ = writer.Close()
			return err
		}
	}

	return writer.Close()
}
