package sqlinline

const QSelectJobArtifacts = `--sql 90842ad2-103b-4e8f-959f-9745e8317163
select kind, value
from job_artifacts
where job_id = $1::uuid;
`

// QUpsertJobArtifacts replaces each kind in $2 with the matching value in $3.
const QUpsertJobArtifacts = `--sql a0bcbc00-49ac-4800-82da-7ad5f7a20c76
insert into job_artifacts (job_id, kind, value, updated_at)
select $1::uuid, a.kind, a.value, now()
from unnest($2::text[], $3::text[]) as a(kind, value)
on conflict (job_id, kind) do update set
    value = excluded.value,
    updated_at = now();
`

const QSelectSynthesizedAudio = `--sql f660135c-2529-4113-9f3a-6c45505be205
select job_id::text, path, duration_seconds, reconciled, updated_at
from synthesized_audio
where job_id = $1::uuid;
`

const QUpsertSynthesizedAudio = `--sql 761d923a-0322-4e10-9444-3a75e47dee67
insert into synthesized_audio (job_id, path, duration_seconds, reconciled, updated_at)
values ($1::uuid, $2::text, $3::double precision, $4::boolean, now())
on conflict (job_id) do update set
    path = excluded.path,
    duration_seconds = excluded.duration_seconds,
    reconciled = excluded.reconciled,
    updated_at = now()
returning updated_at;
`
