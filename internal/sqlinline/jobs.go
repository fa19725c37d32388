package sqlinline

const QInsertGenerationJob = `--sql 66e9d97c-408c-497d-b7ff-f056ea2b0f8e
with inserted as (
    insert into generation_jobs (
        id, subject_ref, provider, provider_job_handle, state, request_payload,
        started_at, created_at, updated_at
    ) values (
        $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::jsonb,
        $7::timestamptz, $8::timestamptz, $8::timestamptz
    )
    returning id, state, started_at, created_at
),
history as (
    insert into job_transitions (job_id, from_state, to_state, occurred_at)
    select id, null, 'PENDING', created_at from inserted
    union all
    select id, 'PENDING', state, coalesce(started_at, created_at) from inserted where state <> 'PENDING'
)
select id::text from inserted;
`

const QSelectGenerationJob = `--sql 70adf7bd-3ca9-4293-b055-933e706d1014
select
    id::text as id,
    subject_ref,
    provider,
    provider_job_handle,
    state,
    request_payload,
    result_ref,
    error_message,
    progress_percent,
    poll_count,
    last_polled_at,
    asset_id::text as asset_id,
    started_at,
    completed_at,
    created_at,
    updated_at
from generation_jobs
where id = $1::uuid
limit 1;
`

const QSelectGenerationJobByHandle = `--sql 2d1c6c5a-7f8d-42ed-8d35-e7fedbfeccc4
select
    id::text as id,
    subject_ref,
    provider,
    provider_job_handle,
    state,
    request_payload,
    result_ref,
    error_message,
    progress_percent,
    poll_count,
    last_polled_at,
    asset_id::text as asset_id,
    started_at,
    completed_at,
    created_at,
    updated_at
from generation_jobs
where provider = $1::text and provider_job_handle = $2::text
limit 1;
`

const QTransitionGenerationJob = `--sql a3f595ee-8fc5-4510-9ea8-a0a04d7e816d
with updated as (
    update generation_jobs
    set state = $3::text,
        result_ref = coalesce(nullif($4::text, ''), result_ref),
        error_message = coalesce(nullif($5::text, ''), error_message),
        completed_at = case
            when $3::text in ('COMPLETED', 'FAILED', 'CANCELLED') then $6::timestamptz
            else completed_at
        end,
        updated_at = $6::timestamptz
    where id = $1::uuid and state = $2::text
    returning *
),
history as (
    insert into job_transitions (job_id, from_state, to_state, occurred_at)
    select id, $2::text, $3::text, $6::timestamptz from updated
)
select
    id::text as id,
    subject_ref,
    provider,
    provider_job_handle,
    state,
    request_payload,
    result_ref,
    error_message,
    progress_percent,
    poll_count,
    last_polled_at,
    asset_id::text as asset_id,
    started_at,
    completed_at,
    created_at,
    updated_at
from updated;
`

const QRecordGenerationJobPoll = `--sql a537ff23-6045-43e9-8f25-d214e3909c79
update generation_jobs
set poll_count = poll_count + 1,
    last_polled_at = $2::timestamptz,
    progress_percent = coalesce($3::int, progress_percent)
where id = $1::uuid;
`

const QLinkGenerationJobAsset = `--sql b2c8607f-d0a9-462f-a801-07c260eb01a4
with linked as (
    update generation_jobs
    set asset_id = $2::uuid, updated_at = now()
    where id = $1::uuid and asset_id is null and state = 'COMPLETED'
    returning asset_id
)
select coalesce(
    (select asset_id::text from linked),
    (select asset_id::text from generation_jobs where id = $1::uuid)
);
`

const QSelectJobTransitions = `--sql 4a9e703e-b877-4f2a-8adc-0b74b9877ea3
select job_id::text as job_id, from_state, to_state, occurred_at
from job_transitions
where job_id = $1::uuid
order by occurred_at asc, id asc;
`

const QListGenerationJobsByState = `--sql 64abccca-4f4c-4ba6-ae10-e7e917e896ee
select
    id::text as id,
    subject_ref,
    provider,
    provider_job_handle,
    state,
    request_payload,
    result_ref,
    error_message,
    progress_percent,
    poll_count,
    last_polled_at,
    asset_id::text as asset_id,
    started_at,
    completed_at,
    created_at,
    updated_at
from generation_jobs
where state = $1::text
order by created_at asc
limit $2::int;
`

const QListUnpublishedJobs = `--sql 29de7381-11ca-4a26-b0c5-063ef8207be3
select
    id::text as id,
    subject_ref,
    provider,
    provider_job_handle,
    state,
    request_payload,
    result_ref,
    error_message,
    progress_percent,
    poll_count,
    last_polled_at,
    asset_id::text as asset_id,
    started_at,
    completed_at,
    created_at,
    updated_at
from generation_jobs
where state = 'COMPLETED'
  and asset_id is null
  and result_ref is not null
  and completed_at >= $1::timestamptz
order by completed_at asc
limit $2::int;
`

const QSubjectHasPublishedAsset = `--sql f497d9ad-d805-4615-850e-50418a4ea111
select exists (
    select 1
    from generation_jobs j
    join assets a on a.id = j.asset_id
    where j.subject_ref = $1::text
      and j.provider = $2::text
      and j.state = 'COMPLETED'
      and a.upload_state = 'COMPLETED'
);
`
