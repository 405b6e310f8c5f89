package sqlinline

const QListVoiceProfiles = `--sql c574a5a9-106c-4b3e-9e14-b82ac6124062
select name, sample_path, reference_text, provider_voice
from voice_profiles
order by name asc;
`

const QUpsertVoiceProfile = `--sql 5ffd230d-a4e7-4056-8913-8974cded7275
insert into voice_profiles (name, sample_path, reference_text, provider_voice, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, now(), now())
on conflict (name) do update set
    sample_path = excluded.sample_path,
    reference_text = excluded.reference_text,
    provider_voice = excluded.provider_voice,
    updated_at = now();
`
