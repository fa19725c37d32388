package sqlinline

const QSelectActiveGrant = `--sql 20df5c56-8e9b-45d4-8a90-f2564e1e0066
select
    id::text as id,
    asset_id::text as asset_id,
    purpose,
    url,
    expires_at,
    active,
    access_count,
    created_at,
    updated_at
from presigned_url_grants
where asset_id = $1::uuid and purpose = $2::text and active
order by expires_at desc
limit 1;
`

// QRotateGrant returns no row when a grant valid until $6 is already active.
const QRotateGrant = `--sql 47ff0cf3-2052-404a-a6fb-faaeae25cb64
with current_grant as (
    select id
    from presigned_url_grants
    where asset_id = $2::uuid
      and purpose = $3::text
      and active
      and expires_at >= $6::timestamptz
    limit 1
),
retired as (
    update presigned_url_grants
    set active = false, updated_at = now()
    where asset_id = $2::uuid
      and purpose = $3::text
      and active
      and not exists (select 1 from current_grant)
    returning access_count
),
inserted as (
    insert into presigned_url_grants (id, asset_id, purpose, url, expires_at, active, access_count, created_at, updated_at)
    select $1::uuid, $2::uuid, $3::text, $4::text, $5::timestamptz, true,
           coalesce((select max(access_count) from retired), 0), now(), now()
    where not exists (select 1 from current_grant)
    returning *
)
select
    id::text as id,
    asset_id::text as asset_id,
    purpose,
    url,
    expires_at,
    active,
    access_count,
    created_at,
    updated_at
from inserted;
`

const QTouchGrant = `--sql 91e405c4-edab-4a8c-b672-bc38ad6eb9b4
update presigned_url_grants
set access_count = access_count + 1
where id = $1::uuid;
`
