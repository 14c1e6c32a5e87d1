package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is a fixed contract: the pipeline depends on these exact tables and
// columns, never on runtime discovery. Statements are idempotent so bootstrap
// can run on every start.
var schemaStatements = []string{
	`create table if not exists users (
	  id serial primary key,
	  tg_id bigint not null,
	  username varchar null,
	  role varchar(32) not null default 'guest',
	  created_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_users_tg_id on users(tg_id)`,

	`create table if not exists user_settings (
	  user_id integer primary key,
	  delivery_enabled boolean not null default true,
	  digest_interval_sec integer null,
	  last_sent_at timestamptz null,
	  pause_until timestamptz null,
	  format_mode varchar(16) not null default 'digest'
	)`,
	`create index if not exists ix_user_settings_delivery_enabled on user_settings(delivery_enabled)`,

	`create table if not exists prompts (
	  id serial primary key,
	  key varchar(64) not null,
	  text text not null default '',
	  updated_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_prompts_key on prompts(key)`,

	`create table if not exists packs (
	  id serial primary key,
	  key varchar not null,
	  title varchar not null,
	  description text not null default '',
	  prompt_id integer null,
	  is_active boolean not null default true,
	  created_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_packs_key on packs(key)`,
	`create index if not exists ix_packs_is_active on packs(is_active)`,

	`create table if not exists channels (
	  id serial primary key,
	  username varchar not null,
	  title varchar not null default '',
	  is_active boolean not null default true,
	  created_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_channels_username on channels(username)`,
	`create index if not exists ix_channels_is_active on channels(is_active)`,

	`create table if not exists pack_channels (
	  id serial primary key,
	  pack_id integer not null,
	  channel_id integer not null,
	  created_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_pack_channels_pair on pack_channels(pack_id, channel_id)`,

	`create table if not exists user_packs (
	  id serial primary key,
	  user_id integer not null,
	  pack_id integer not null,
	  is_enabled boolean not null default true,
	  created_at timestamptz not null default now()
	)`,
	`create unique index if not exists ux_user_packs_pair on user_packs(user_id, pack_id)`,

	`create table if not exists posts_cache (
	  id serial primary key,
	  channel_ref varchar(255) not null,
	  message_id varchar(64) not null,
	  url varchar(512) not null default '',
	  text text not null default '',
	  parsed_at timestamptz not null default now(),
	  expires_at timestamptz not null,
	  is_deleted boolean not null default false
	)`,
	`create unique index if not exists ux_posts_cache_pair on posts_cache(channel_ref, message_id)`,
	`create index if not exists ix_posts_cache_expires_at on posts_cache(expires_at)`,
	`create index if not exists ix_posts_cache_parsed_at on posts_cache(parsed_at)`,

	`create table if not exists post_facts (
	  id serial primary key,
	  channel_ref text not null,
	  message_id text not null,
	  text_sha256 text not null,
	  summary text not null default '',
	  url text not null default '',
	  channel_name text not null default '',
	  model text not null default '',
	  updated_at timestamptz not null default now(),
	  unique (channel_ref, message_id)
	)`,
	`create index if not exists ix_post_facts_updated_at on post_facts(updated_at desc)`,

	`create table if not exists reports (
	  id text primary key,
	  user_id integer not null,
	  pack_id integer null,
	  pack_key varchar(64) not null,
	  period_start timestamptz not null,
	  period_end timestamptz not null,
	  report_text text not null default '',
	  input_hash text not null,
	  stage2_model text not null default '',
	  fact_count integer not null default 0,
	  created_at timestamptz not null default now()
	)`,
	`create index if not exists ix_reports_identity on reports(user_id, pack_key, period_start, period_end, input_hash)`,
	`create index if not exists ix_reports_created_at on reports(created_at)`,

	`create table if not exists deliveries (
	  id serial primary key,
	  user_id integer not null,
	  channel_ref varchar(255) not null,
	  message_id varchar(64) not null,
	  sent_at timestamptz not null default now(),
	  unique (user_id, channel_ref, message_id)
	)`,
	`create index if not exists ix_deliveries_user_id on deliveries(user_id)`,

	`create table if not exists report_deliveries (
	  id serial primary key,
	  user_id integer not null,
	  report_id text not null,
	  sent_at timestamptz not null default now(),
	  unique (user_id, report_id)
	)`,
	`create index if not exists ix_report_deliveries_user_id on report_deliveries(user_id)`,
}

// EnsureSchema applies the idempotent DDL bootstrap. The core never deletes
// rows and never alters this contract at pipeline time.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
