package store

import (
	"context"
	"fmt"
	"time"
)

// RegenJob is one queued reply-regeneration request. Delivery is at-least-once:
// a claimed job becomes visible again after the visibility window unless it is
// completed or exhausted.
type RegenJob struct {
	ID        string
	TaskID    string
	Attempts  int
	NotBefore time.Time
	CreatedAt time.Time
}

func (q Queries) EnqueueRegenJob(ctx context.Context, j RegenJob) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO regen_jobs (id, task_id, attempts, not_before, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		j.ID, j.TaskID, j.Attempts, utc(j.NotBefore), utc(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueue regen job: %w", err)
	}
	return nil
}

// ClaimRegenJobs returns due jobs and pushes their visibility forward so a
// crashed worker releases them after the window.
func (q Queries) ClaimRegenJobs(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]RegenJob, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, task_id, attempts, not_before, created_at
		FROM regen_jobs WHERE not_before <= ? ORDER BY created_at LIMIT ?`,
		utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("claim regen jobs: %w", err)
	}
	defer rows.Close()

	var jobs []RegenJob
	for rows.Next() {
		var j RegenJob
		if err := rows.Scan(&j.ID, &j.TaskID, &j.Attempts, &j.NotBefore, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan regen job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range jobs {
		_, err := q.db.ExecContext(ctx, `
			UPDATE regen_jobs SET attempts = attempts + 1, not_before = ? WHERE id = ?`,
			utc(now.Add(visibility)), jobs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("reserve regen job: %w", err)
		}
		jobs[i].Attempts++
	}
	return jobs, nil
}

func (q Queries) DeleteRegenJob(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM regen_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete regen job: %w", err)
	}
	return nil
}
