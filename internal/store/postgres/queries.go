package postgres

const queryInsertJob = `
INSERT INTO jobs (id, owner_id, job_type, due_time, status, title, notify_target, resource_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryGetJob = `
SELECT id, owner_id, job_type, due_time, status, title, notify_target, resource_id, created_at, updated_at
FROM jobs
WHERE id = $1
`

const queryGetJobForOwner = `
SELECT id, owner_id, job_type, due_time, status, title, notify_target, resource_id, created_at, updated_at
FROM jobs
WHERE id = $1 AND owner_id = $2
`

const queryListJobs = `
SELECT id, owner_id, job_type, due_time, status, title, notify_target, resource_id, created_at, updated_at
FROM jobs
WHERE owner_id = $1
ORDER BY due_time ASC
LIMIT $2 OFFSET $3
`

const queryGetJobStatus = `
SELECT status FROM jobs WHERE id = $1
`

const queryUpdateJobStatus = `
UPDATE jobs
SET status = $1, updated_at = $2
WHERE id = $3
  AND status NOT IN ('completed', 'failed', 'cancelled')
`

const queryDeleteJob = `
WITH deleted_entries AS (
    DELETE FROM queue_entries WHERE job_id = $1
)
DELETE FROM jobs WHERE id = $1 AND owner_id = $2
RETURNING id`

const queryInsertHistory = `
INSERT INTO history (id, job_id, owner_id, job_type, status, detail, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListHistory = `
SELECT id, job_id, owner_id, job_type, status, detail, executed_at
FROM history
WHERE owner_id = $1
ORDER BY executed_at DESC
LIMIT $2 OFFSET $3
`

const queryEnqueueEntry = `
INSERT INTO queue_entries (id, job_id, job_type, due_time, claimed, created_at)
VALUES ($1, $2, $3, $4, false, $5)
`

const queryClaimDue = `
WITH due AS (
    SELECT id FROM queue_entries
    WHERE claimed = false
      AND due_time <= $1
    ORDER BY due_time ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_entries
SET claimed = true, claimed_at = $1
FROM due
WHERE queue_entries.id = due.id
RETURNING queue_entries.id, queue_entries.job_id, queue_entries.job_type, queue_entries.due_time
`

const queryAckEntry = `
DELETE FROM queue_entries WHERE id = $1
`

const queryCancelPending = `
DELETE FROM queue_entries
WHERE job_id = $1 AND claimed = false
`

const queryRequeueStale = `
WITH stale AS (
    SELECT id FROM queue_entries
    WHERE claimed = true
      AND claimed_at < $1
    ORDER BY claimed_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_entries
SET claimed = false, claimed_at = NULL
FROM stale
WHERE queue_entries.id = stale.id
`

const queryPendingCount = `
SELECT COUNT(*) FROM queue_entries WHERE claimed = false
`

const queryInsertUser = `
INSERT INTO users (id, email, password_hash, created_at)
VALUES ($1, $2, $3, $4)
`

const queryGetUserByEmail = `
SELECT id, email, password_hash, created_at
FROM users
WHERE email = $1
`
