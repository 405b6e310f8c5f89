package sqlinline

const QListJobStages = `--sql 4f34378d-7acc-47b4-8df5-6bb6632075da
select stage, state, error, suggestion, warning, started_at, completed_at
from job_stages
where job_id = $1::uuid;
`

const QMarkStageRunning = `--sql 298d5bf8-6650-4969-a449-63e8a5df7a6c
update job_stages
set state = 'running',
    error = '',
    suggestion = '',
    warning = '',
    started_at = now(),
    completed_at = null
where job_id = $1::uuid
  and stage = $2::text
  and state = 'pending';
`

const QCompleteStage = `--sql 2bf1d3a9-d63e-4f1b-a9b7-abd9d347c936
update job_stages
set state = 'completed',
    error = '',
    suggestion = '',
    warning = $3::text,
    completed_at = now()
where job_id = $1::uuid
  and stage = $2::text;
`

const QFailStage = `--sql 25e4b704-5d68-492d-8050-2b98a73f8c75
update job_stages
set state = 'failed',
    error = $3::text,
    suggestion = $4::text,
    completed_at = now()
where job_id = $1::uuid
  and stage = $2::text;
`

// QResetStages moves the stages in $2 back to pending unless the job is
// held by a worker or any of its stages is running, clearing the job error
// and queueing it when $3.
const QResetStages = `--sql 00d04185-0de9-43d9-9c4e-276a13050b72
with busy as (
    select 1
    from job_stages
    where job_id = $1::uuid
      and state = 'running'
    union all
    select 1
    from video_jobs
    where id = $1::uuid
      and run_status = 'running'
    limit 1
),
reset as (
    update job_stages
    set state = 'pending',
        error = '',
        suggestion = '',
        warning = '',
        started_at = null,
        completed_at = null
    where job_id = $1::uuid
      and stage = any($2::text[])
      and not exists (select 1 from busy)
    returning stage
),
job as (
    update video_jobs
    set last_error = '',
        suggestion = '',
        run_status = case when $3::boolean then 'queued' else run_status end,
        updated_at = now()
    where id = $1::uuid
      and not exists (select 1 from busy)
    returning id
)
select exists (select 1 from busy),
       exists (select 1 from video_jobs where id = $1::uuid);
`

const QRecoverInterruptedStages = `--sql 4e6725fc-bb13-4bea-ac7e-35907d4ea9db
update job_stages
set state = 'pending',
    started_at = null
where job_id = $1::uuid
  and state = 'running';
`
