package sqlinline

// QInsertVideoJob creates the job and its pending stage rows ($9) in one
// statement.
const QInsertVideoJob = `--sql 48b469a8-562b-4738-8f15-b2dfd9adc455
with job as (
    insert into video_jobs (id, source_url, title, description, source_path, voice_profile,
                            target_language, run_status, current_stage, created_at, updated_at)
    values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text, '', now(), now())
    returning id, created_at, updated_at
),
stages as (
    insert into job_stages (job_id, stage, state)
    select job.id, s.stage, 'pending'
    from job, unnest($9::text[]) as s(stage)
)
select created_at, updated_at from job;
`

const QSelectVideoJob = `--sql d7b373b5-4363-4e15-bb5f-beef18305b24
select id::text, source_url, title, description, translated_title, translated_description,
       source_path, duration_seconds, voice_profile, target_language, run_status,
       current_stage, last_error, suggestion, created_at, updated_at
from video_jobs
where id = $1::uuid;
`

const QSetJobRunStatus = `--sql 1d172c1e-94b2-4838-a414-955e61dbddfd
update video_jobs
set run_status = $2::text,
    current_stage = $3::text,
    last_error = $4::text,
    suggestion = $5::text,
    locked_until = case when $2::text = 'running' then locked_until else null end,
    updated_at = now()
where id = $1::uuid;
`

const QQueueVideoJob = `--sql 28f62c5d-2562-4407-acba-db9a2b2a4f5d
update video_jobs
set run_status = 'queued',
    updated_at = now()
where id = $1::uuid;
`

// QUpdateVideoJobFields leaves a column untouched when its parameter is null.
const QUpdateVideoJobFields = `--sql 6e00af89-02d9-4ff8-88d5-b375b4ebf573
update video_jobs
set title = coalesce($2::text, title),
    description = coalesce($3::text, description),
    translated_title = coalesce($4::text, translated_title),
    translated_description = coalesce($5::text, translated_description),
    voice_profile = coalesce($6::text, voice_profile),
    target_language = coalesce($7::text, target_language),
    source_path = coalesce($8::text, source_path),
    duration_seconds = coalesce($9::double precision, duration_seconds),
    updated_at = now()
where id = $1::uuid;
`
