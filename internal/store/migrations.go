package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    sku        TEXT NOT NULL UNIQUE,
    title      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
    item_id INTEGER NOT NULL REFERENCES items(id),
    ds      TEXT NOT NULL,
    price   REAL NOT NULL,
    PRIMARY KEY (item_id, ds)
);

CREATE INDEX IF NOT EXISTS idx_observations_ds ON observations(ds);

CREATE TABLE IF NOT EXISTS model_versions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id     INTEGER NOT NULL REFERENCES items(id),
    version     TEXT NOT NULL,
    model_type  TEXT NOT NULL,
    train_start TEXT NOT NULL,
    train_end   TEXT NOT NULL,
    params      TEXT NOT NULL DEFAULT '{}',
    metrics     TEXT,
    active      BOOLEAN NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    UNIQUE(item_id, version)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_item ON model_versions(item_id);
CREATE INDEX IF NOT EXISTS idx_model_versions_active ON model_versions(item_id, active);

CREATE TABLE IF NOT EXISTS forecasts (
    item_id    INTEGER NOT NULL REFERENCES items(id),
    ds         TEXT NOT NULL,
    yhat       REAL NOT NULL,
    yhat_lower REAL NOT NULL,
    yhat_upper REAL NOT NULL,
    version    TEXT NOT NULL,
    PRIMARY KEY (item_id, ds, version)
);

CREATE INDEX IF NOT EXISTS idx_forecasts_item_version ON forecasts(item_id, version);
`
