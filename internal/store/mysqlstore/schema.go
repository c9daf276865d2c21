package mysqlstore

// schema is applied statement by statement; the DSN does not enable
// multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS doctors (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		name       VARCHAR(200) NOT NULL,
		code       VARCHAR(50)  NOT NULL,
		specialty  VARCHAR(100) NULL,
		created_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_doctors_code (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS patients (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name  VARCHAR(100) NULL,
		age        INT          NULL,
		phone      VARCHAR(20)  NOT NULL,
		email      VARCHAR(255) NULL,
		created_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_patients_phone (phone)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS doctor_availabilities (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		doctor_id  CHAR(36)     NOT NULL,
		date       DATE         NOT NULL,
		is_present TINYINT(1)   NOT NULL,
		notes      TEXT         NULL,
		updated_by VARCHAR(100) NULL,
		updated_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_availability_doctor_date (doctor_id, date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS daily_capacities (
		doctor_id CHAR(36) NOT NULL,
		date      DATE     NOT NULL,
		capacity  INT      NOT NULL,
		remaining INT      NOT NULL,
		PRIMARY KEY (doctor_id, date),
		CONSTRAINT ck_capacity_remaining CHECK (remaining >= 0 AND remaining <= capacity)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id              CHAR(36)     NOT NULL PRIMARY KEY,
		patient_id      CHAR(36)     NOT NULL,
		doctor_id       CHAR(36)     NOT NULL,
		date            DATE         NOT NULL,
		slot            INT          NOT NULL,
		status          VARCHAR(20)  NOT NULL,
		idempotency_key VARCHAR(255) NULL,
		created_at      DATETIME(6)  NOT NULL,
		updated_at      DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_appointments_idempotency_key (idempotency_key),
		UNIQUE KEY uq_appointments_slot (doctor_id, date, slot),
		KEY ix_appointments_date (date, doctor_id, slot)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS queue_counters (
		doctor_id     CHAR(36) NOT NULL,
		date          DATE     NOT NULL,
		last_position INT      NOT NULL,
		PRIMARY KEY (doctor_id, date)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS queue_entries (
		id             CHAR(36)    NOT NULL PRIMARY KEY,
		appointment_id CHAR(36)    NOT NULL,
		doctor_id      CHAR(36)    NOT NULL,
		date           DATE        NOT NULL,
		position       INT         NOT NULL,
		checked_in_at  DATETIME(6) NOT NULL,
		status         VARCHAR(20) NOT NULL,
		UNIQUE KEY uq_queue_entries_appointment (appointment_id),
		UNIQUE KEY uq_queue_entries_position (doctor_id, date, position),
		KEY ix_queue_date (date, doctor_id, position)
	) ENGINE=InnoDB`,
}
