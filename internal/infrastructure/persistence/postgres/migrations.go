// Package postgres implements the PostgreSQL persistence layer for Schedule Sync.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create schedule tables (events + semesters)
-- Version: 001

CREATE TABLE IF NOT EXISTS semesters (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    name VARCHAR(100) NOT NULL DEFAULT '',
    start_date DATE NOT NULL,
    end_date DATE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_semester_dates CHECK (end_date IS NULL OR end_date > start_date)
);

CREATE INDEX IF NOT EXISTS idx_semesters_owner ON semesters(owner_id);
-- Only one active semester per owner at a time.
CREATE UNIQUE INDEX IF NOT EXISTS idx_semesters_owner_active
    ON semesters(owner_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS scheduled_events (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    course_id UUID,
    title VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    location VARCHAR(255) NOT NULL DEFAULT '',
    day_of_week SMALLINT,
    start_time SMALLINT NOT NULL,
    end_time SMALLINT NOT NULL,
    specific_date DATE,
    is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    rotation_type VARCHAR(20) NOT NULL DEFAULT 'none',
    rotation_weeks INTEGER[],
    semester_week_start INTEGER NOT NULL DEFAULT 1,
    semester_id UUID REFERENCES semesters(id) ON DELETE SET NULL,
    external_id VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_day_of_week CHECK (day_of_week IS NULL OR (day_of_week >= 0 AND day_of_week <= 6)),
    CONSTRAINT valid_time_range CHECK (end_time > start_time),
    CONSTRAINT valid_rotation_type CHECK (rotation_type IN ('none', 'weekly', 'biweekly', 'odd_weeks', 'even_weeks', 'custom'))
);

CREATE INDEX IF NOT EXISTS idx_events_owner ON scheduled_events(owner_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_events_owner_updated ON scheduled_events(owner_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_semester ON scheduled_events(semester_id);
-- Remote mirror lookups during pull application.
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_owner_external
    ON scheduled_events(owner_id, external_id) WHERE external_id != '';
`

const migration001Down = `
DROP TABLE IF EXISTS scheduled_events;
DROP TABLE IF EXISTS semesters;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE SYNC STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create sync state tables (tokens, outbox operations, conflicts)
-- Version: 002

-- One cursor per (owner, calendar) pair. Advanced only inside the
-- cycle-commit transaction; an empty value forces a full resync.
CREATE TABLE IF NOT EXISTS sync_tokens (
    owner_id UUID NOT NULL,
    calendar_id VARCHAR(255) NOT NULL,
    token_value TEXT NOT NULL DEFAULT '',
    last_used_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (owner_id, calendar_id)
);

CREATE TABLE IF NOT EXISTS sync_operations (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    calendar_id VARCHAR(255) NOT NULL,
    entity_type VARCHAR(50) NOT NULL,
    entity_id UUID NOT NULL,
    operation_type VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_operation_type CHECK (operation_type IN ('create', 'update', 'delete')),
    CONSTRAINT valid_operation_status CHECK (status IN ('pending', 'completed', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_operations_pending
    ON sync_operations(owner_id, calendar_id, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_operations_entity ON sync_operations(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_operations_completed_at
    ON sync_operations(updated_at) WHERE status = 'completed';

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    entity_type VARCHAR(50) NOT NULL,
    entity_id UUID NOT NULL,
    conflict_type VARCHAR(30) NOT NULL,
    fields TEXT[] NOT NULL DEFAULT '{}',
    local_snapshot JSONB NOT NULL,
    remote_snapshot JSONB NOT NULL,
    state VARCHAR(30) NOT NULL DEFAULT 'pending',
    resolution JSONB,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_conflict_type CHECK (conflict_type IN ('time_modified', 'content_modified', 'location_conflict')),
    CONSTRAINT valid_conflict_state CHECK (state IN ('pending', 'auto_resolved', 'manually_resolved'))
);

CREATE INDEX IF NOT EXISTS idx_conflicts_pending
    ON sync_conflicts(owner_id, created_at DESC) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON sync_conflicts(entity_type, entity_id);
`

const migration002Down = `
DROP TABLE IF EXISTS sync_conflicts;
DROP TABLE IF EXISTS sync_operations;
DROP TABLE IF EXISTS sync_tokens;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE SYNC CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create notification channel registry
-- Version: 003

-- Push channels registered with the remote calendar. Only the bcrypt hash
-- of the channel secret is stored.
CREATE TABLE IF NOT EXISTS sync_channels (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    calendar_id VARCHAR(255) NOT NULL,
    secret_hash BYTEA NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_channels_owner ON sync_channels(owner_id);
CREATE INDEX IF NOT EXISTS idx_channels_expires ON sync_channels(expires_at);
`

const migration003Down = `
DROP TABLE IF EXISTS sync_channels;
`
