package sqlinline

// QAcquireMonitorLease returns no row while another holder's lease is live.
const QAcquireMonitorLease = `--sql d80acbf4-a825-402f-86c8-87b36e03424b
insert into monitor_leases (job_id, token, expires_at)
values ($1::uuid, $2::uuid, now() + $3::bigint * interval '1 millisecond')
on conflict (job_id) do update
set token = excluded.token, expires_at = excluded.expires_at
where monitor_leases.expires_at <= now()
returning token::text;
`

const QReleaseMonitorLease = `--sql 1720c9b4-1c67-42b1-bf13-c6ee4e76356d
delete from monitor_leases
where job_id = $1::uuid and token = $2::uuid;
`
