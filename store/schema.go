package store

import "strings"

// schemaTemplate is rendered per dialect; {{pk}}, {{ts}}, {{now}}, {{bool}}
// and {{dec}} are replaced with the driver's column types.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS sites (
    id          {{pk}},
    name        TEXT NOT NULL UNIQUE,
    site_type   TEXT NOT NULL,
    latitude    REAL NOT NULL DEFAULT 0,
    longitude   REAL NOT NULL DEFAULT 0,
    created_at  {{ts}} NOT NULL DEFAULT ({{now}})
);

CREATE TABLE IF NOT EXISTS transport_lines (
    id               {{pk}},
    name             TEXT NOT NULL DEFAULT '',
    line_type        TEXT NOT NULL,
    start_site_id    BIGINT NOT NULL REFERENCES sites(id),
    end_site_id      BIGINT NOT NULL REFERENCES sites(id),
    distance         REAL NOT NULL DEFAULT 0,
    cost             {{dec}} NOT NULL DEFAULT 0,
    duration_seconds BIGINT NOT NULL DEFAULT 0,
    created_at       {{ts}} NOT NULL DEFAULT ({{now}})
);
CREATE INDEX IF NOT EXISTS idx_lines_start ON transport_lines(start_site_id);
CREATE INDEX IF NOT EXISTS idx_lines_end ON transport_lines(end_site_id);

CREATE TABLE IF NOT EXISTS transport_orders (
    id                {{pk}},
    order_id          BIGINT NOT NULL UNIQUE,
    start_site_id     BIGINT NOT NULL,
    end_site_id       BIGINT NOT NULL,
    current_site_id   BIGINT NOT NULL,
    next_site_id      BIGINT NOT NULL,
    status            TEXT NOT NULL,
    is_rejected       {{bool}} NOT NULL DEFAULT FALSE,
    route             TEXT NOT NULL DEFAULT '[]',
    cost              {{dec}} NOT NULL DEFAULT 0,
    total_weight      REAL NOT NULL DEFAULT 0,
    total_volume      REAL NOT NULL DEFAULT 0,
    estimated_arrival {{ts}},
    created_at        {{ts}} NOT NULL DEFAULT ({{now}}),
    updated_at        {{ts}} NOT NULL DEFAULT ({{now}})
);
CREATE INDEX IF NOT EXISTS idx_transport_orders_status ON transport_orders(status);

CREATE TABLE IF NOT EXISTS order_history (
    id                 {{pk}},
    transport_order_id BIGINT NOT NULL REFERENCES transport_orders(id),
    status             TEXT NOT NULL,
    info               TEXT NOT NULL DEFAULT '',
    created_at         {{ts}} NOT NULL DEFAULT ({{now}})
);
CREATE INDEX IF NOT EXISTS idx_order_history_order ON order_history(transport_order_id);

CREATE TABLE IF NOT EXISTS transport_tasks (
    id              {{pk}},
    truck_plan_id   BIGINT NOT NULL UNIQUE,
    truck_id        BIGINT NOT NULL,
    trip_id         BIGINT NOT NULL,
    driver_ids      TEXT NOT NULL DEFAULT '[]',
    start_site_id   BIGINT NOT NULL,
    end_site_id     BIGINT NOT NULL,
    total_weight    REAL NOT NULL DEFAULT 0,
    total_volume    REAL NOT NULL DEFAULT 0,
    distance        REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    assigned_status TEXT NOT NULL DEFAULT 'DISTRIBUTED',
    loading_status  TEXT NOT NULL DEFAULT 'EMPTY',
    created_at      {{ts}} NOT NULL DEFAULT ({{now}}),
    completed_at    {{ts}}
);
CREATE INDEX IF NOT EXISTS idx_transport_tasks_status ON transport_tasks(status);

CREATE TABLE IF NOT EXISTS transport_order_tasks (
    transport_order_id BIGINT NOT NULL REFERENCES transport_orders(id),
    transport_task_id  BIGINT NOT NULL REFERENCES transport_tasks(id),
    PRIMARY KEY (transport_order_id, transport_task_id)
);
CREATE INDEX IF NOT EXISTS idx_order_tasks_task ON transport_order_tasks(transport_task_id);

CREATE TABLE IF NOT EXISTS vehicle_plans (
    id            BIGINT PRIMARY KEY,
    truck_id      BIGINT NOT NULL,
    trip_id       BIGINT NOT NULL,
    start_site_id BIGINT NOT NULL,
    end_site_id   BIGINT NOT NULL,
    max_weight    REAL NOT NULL DEFAULT 0,
    max_volume    REAL NOT NULL DEFAULT 0,
    driver_ids    TEXT NOT NULL DEFAULT '[]',
    status        TEXT NOT NULL DEFAULT 'PENDING',
    claimed_ms    BIGINT NOT NULL DEFAULT 0,
    planned_at    {{ts}},
    scheduled_at  {{ts}},
    created_at    {{ts}} NOT NULL DEFAULT ({{now}})
);
CREATE INDEX IF NOT EXISTS idx_vehicle_plans_status ON vehicle_plans(status);

CREATE TABLE IF NOT EXISTS dispatch_config (
    id         INTEGER PRIMARY KEY,
    method     INTEGER NOT NULL DEFAULT 1,
    updated_at {{ts}} NOT NULL DEFAULT ({{now}})
);

CREATE TABLE IF NOT EXISTS outbox (
    id          {{pk}},
    topic       TEXT NOT NULL,
    payload     {{blob}} NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    station_id  TEXT NOT NULL DEFAULT '',
    retries     INTEGER NOT NULL DEFAULT 0,
    created_at  {{ts}} NOT NULL DEFAULT ({{now}}),
    sent_at     {{ts}}
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_log (
    id          {{pk}},
    entity_type TEXT NOT NULL,
    entity_id   BIGINT NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  {{ts}} NOT NULL DEFAULT ({{now}})
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS admin_users (
    id            {{pk}},
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    {{ts}} NOT NULL DEFAULT ({{now}})
);
`

func renderSchema(d Dialect) string {
	return strings.NewReplacer(
		"{{pk}}", d.AutoIncrementPK(),
		"{{ts}}", d.TimestampType(),
		"{{now}}", d.Now(),
		"{{bool}}", d.BoolType(),
		"{{dec}}", d.DecimalType(),
		"{{blob}}", d.BlobType(),
	).Replace(schemaTemplate)
}
