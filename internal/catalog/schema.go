package catalog

// SchemaVersion is stamped into schema_migrations by InitSchema.
const SchemaVersion = 1

// The item table lives in schema "stoma" on PostgreSQL. item_ctime and
// item_mtime are integer unix nanoseconds so the walker's strict mtime
// comparison is exact across drivers.
const schemaPostgres = `
CREATE SCHEMA IF NOT EXISTS stoma;

CREATE TABLE IF NOT EXISTS stoma.item (
    path           VARCHAR(1024) NOT NULL,
    state          VARCHAR(24)   NOT NULL DEFAULT 'unchanged',
    search_id      VARCHAR(1024),
    search_version BIGINT,
    size           BIGINT        NOT NULL DEFAULT 0,
    item_ctime     BIGINT        NOT NULL,
    item_mtime     BIGINT        NOT NULL,
    mime_type      VARCHAR(255)  NOT NULL DEFAULT 'application/octet-stream',
    encoding       VARCHAR(255),
    language       VARCHAR(255),
    os_stat        JSONB,
    xattr          JSONB,
    meta_json      JSONB,
    meta_xmp       TEXT,
    data_text      TEXT,
    data_json      JSONB,
    data_html_head TEXT,
    data_html_body TEXT,
    row_ctime      TIMESTAMPTZ   NOT NULL DEFAULT CURRENT_TIMESTAMP,
    row_mtime      TIMESTAMPTZ,
    CONSTRAINT item_pk PRIMARY KEY (path),
    CONSTRAINT item_size_ck CHECK (size >= 0)
);

CREATE INDEX IF NOT EXISTS item_state_ix ON stoma.item (state);

CREATE TABLE IF NOT EXISTS stoma.schema_migrations (
    version    INTEGER     NOT NULL,
    stamped_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT schema_migrations_pk PRIMARY KEY (version)
);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS item (
    path           TEXT    NOT NULL PRIMARY KEY,
    state          TEXT    NOT NULL DEFAULT 'unchanged',
    search_id      TEXT,
    search_version INTEGER,
    size           INTEGER NOT NULL DEFAULT 0 CHECK (size >= 0),
    item_ctime     INTEGER NOT NULL,
    item_mtime     INTEGER NOT NULL,
    mime_type      TEXT    NOT NULL DEFAULT 'application/octet-stream',
    encoding       TEXT,
    language       TEXT,
    os_stat        TEXT,
    xattr          TEXT,
    meta_json      TEXT,
    meta_xmp       TEXT,
    data_text      TEXT,
    data_json      TEXT,
    data_html_head TEXT,
    data_html_body TEXT,
    row_ctime      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    row_mtime      TIMESTAMP
);

CREATE INDEX IF NOT EXISTS item_state_ix ON item (state);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER   NOT NULL PRIMARY KEY,
    stamped_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
