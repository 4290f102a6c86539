package storage

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nav_samples (
    captured_at  TIMESTAMPTZ PRIMARY KEY,
    nav          NUMERIC     NOT NULL,
    price        NUMERIC     NOT NULL,
    difference   NUMERIC     NOT NULL,
    source       TEXT        NOT NULL DEFAULT 'live',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS collection_failures (
    id           BIGSERIAL   PRIMARY KEY,
    occurred_at  TIMESTAMPTZ NOT NULL,
    legs         TEXT[]      NOT NULL DEFAULT '{}',
    message      TEXT        NOT NULL,
    suppressed   BOOLEAN     NOT NULL DEFAULT false,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS collection_failures_occurred_at_idx
    ON collection_failures (occurred_at DESC);

CREATE TABLE IF NOT EXISTS difference_alerts (
    id           BIGSERIAL   PRIMARY KEY,
    sample_ts    TIMESTAMPTZ NOT NULL UNIQUE,
    difference   NUMERIC     NOT NULL,
    threshold    NUMERIC     NOT NULL,
    direction    TEXT        NOT NULL,
    channels     TEXT[]      NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
