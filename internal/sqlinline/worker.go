package sqlinline

// QWorkerClaimJob takes the oldest queued job, or a running job whose lease
// lapsed, and leases it for $1 seconds.
const QWorkerClaimJob = `--sql c8e638fa-19db-44b5-ac09-29624a3d2f78
with next_job as (
    select id
    from video_jobs
    where run_status = 'queued'
       or (run_status = 'running' and locked_until < now())
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update video_jobs
    set run_status = 'running',
        locked_until = now() + make_interval(secs => $1::double precision),
        updated_at = now()
    where id in (select id from next_job)
    returning id::text, source_url, title, description, translated_title, translated_description,
              source_path, duration_seconds, voice_profile, target_language, run_status,
              current_stage, last_error, suggestion, created_at, updated_at
)
select * from updated;
`

const QWorkerRenewLease = `--sql de64054a-a672-460c-9f06-4013d69eccec
update video_jobs
set locked_until = now() + make_interval(secs => $2::double precision)
where id = $1::uuid
  and run_status = 'running';
`
