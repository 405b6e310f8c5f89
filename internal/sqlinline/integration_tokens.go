package sqlinline

// Provider API keys rotated through dubctl. Keys from the environment take
// precedence, so rows here are only read when a variable is unset.

const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text;
`

// QUpsertIntegrationToken replaces the key and merges $3 into the stored
// properties, stamping the rotation time.
const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb) || jsonb_build_object('rotated_at', now()))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql 2b0f3c8e-5d61-4a8f-9c27-7e4d1a6b9f30
delete from integration_tokens
where provider = $1::text;
`
