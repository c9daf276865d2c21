package sqlitestore

const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	specialty  TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
	id         TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name  TEXT,
	age        INTEGER,
	phone      TEXT NOT NULL UNIQUE,
	email      TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doctor_availabilities (
	id         TEXT PRIMARY KEY,
	doctor_id  TEXT NOT NULL,
	date       TEXT NOT NULL,
	is_present INTEGER NOT NULL,
	notes      TEXT,
	updated_by TEXT,
	updated_at TEXT NOT NULL,
	UNIQUE (doctor_id, date)
);

CREATE TABLE IF NOT EXISTS daily_capacities (
	doctor_id TEXT NOT NULL,
	date      TEXT NOT NULL,
	capacity  INTEGER NOT NULL,
	remaining INTEGER NOT NULL CHECK (remaining >= 0 AND remaining <= capacity),
	PRIMARY KEY (doctor_id, date)
);

CREATE TABLE IF NOT EXISTS appointments (
	id              TEXT PRIMARY KEY,
	patient_id      TEXT NOT NULL,
	doctor_id       TEXT NOT NULL,
	date            TEXT NOT NULL,
	slot            INTEGER NOT NULL,
	status          TEXT NOT NULL,
	idempotency_key TEXT UNIQUE,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE (doctor_id, date, slot)
);

CREATE INDEX IF NOT EXISTS ix_appointments_date ON appointments (date, doctor_id, slot);

CREATE TABLE IF NOT EXISTS queue_counters (
	doctor_id     TEXT NOT NULL,
	date          TEXT NOT NULL,
	last_position INTEGER NOT NULL,
	PRIMARY KEY (doctor_id, date)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	id             TEXT PRIMARY KEY,
	appointment_id TEXT NOT NULL UNIQUE,
	doctor_id      TEXT NOT NULL,
	date           TEXT NOT NULL,
	position       INTEGER NOT NULL,
	checked_in_at  TEXT NOT NULL,
	status         TEXT NOT NULL,
	UNIQUE (doctor_id, date, position)
);

CREATE INDEX IF NOT EXISTS ix_queue_date ON queue_entries (date, doctor_id, position);
`
