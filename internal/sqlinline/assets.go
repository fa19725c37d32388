package sqlinline

const QSelectAssetByID = `--sql 898fe95a-562b-4ba0-b37e-0b5c8ee9db3f
select
    id::text as id,
    bucket,
    object_key,
    size_bytes,
    content_type,
    checksum,
    upload_state,
    last_error,
    created_at,
    updated_at
from assets
where id = $1::uuid
limit 1;
`

const QSelectAssetByLocation = `--sql 043e39b9-989a-419d-95c8-29ff42e0ea22
select
    id::text as id,
    bucket,
    object_key,
    size_bytes,
    content_type,
    checksum,
    upload_state,
    last_error,
    created_at,
    updated_at
from assets
where bucket = $1::text and object_key = $2::text
limit 1;
`

const QReserveAsset = `--sql 44f67884-1b38-4163-9135-0222c3532c9c
insert into assets (id, bucket, object_key, size_bytes, content_type, upload_state, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, 0, $4::text, $5::text, now(), now())
on conflict (bucket, object_key) do update set
    upload_state = case when assets.upload_state = 'COMPLETED' then assets.upload_state else excluded.upload_state end,
    content_type = case when assets.upload_state = 'COMPLETED' then assets.content_type else excluded.content_type end,
    updated_at = now()
returning
    id::text as id,
    bucket,
    object_key,
    size_bytes,
    content_type,
    checksum,
    upload_state,
    last_error,
    created_at,
    updated_at;
`

const QMarkAssetUploaded = `--sql 551595da-9516-4030-b52a-c93ebda02b57
update assets
set size_bytes = $2::bigint,
    content_type = $3::text,
    checksum = nullif($4::text, ''),
    upload_state = 'COMPLETED',
    last_error = null,
    updated_at = now()
where id = $1::uuid
returning
    id::text as id,
    bucket,
    object_key,
    size_bytes,
    content_type,
    checksum,
    upload_state,
    last_error,
    created_at,
    updated_at;
`

const QMarkAssetUploading = `--sql b6808f62-fb89-4c3e-96fc-5479945b37d9
update assets
set upload_state = 'UPLOADING',
    last_error = null,
    updated_at = now()
where id = $1::uuid
returning
    id::text as id,
    bucket,
    object_key,
    size_bytes,
    content_type,
    checksum,
    upload_state,
    last_error,
    created_at,
    updated_at;
`

const QMarkAssetFailed = `--sql c3e4d4e0-96b9-48d3-be75-0e53656678f8
update assets
set upload_state = 'FAILED',
    last_error = $2::text,
    updated_at = now()
where id = $1::uuid and upload_state <> 'COMPLETED';
`
