package postgres

const (
	createSnapshotsTable = `
		CREATE TABLE IF NOT EXISTS room_snapshots (
			name       text        PRIMARY KEY,
			data       jsonb       NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`

	createSnapshotsUpdatedIdx = `
		CREATE INDEX IF NOT EXISTS room_snapshots_updated_at_idx
		ON room_snapshots (updated_at)`

	upsertSnapshot = `
		INSERT INTO room_snapshots (name, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	selectSnapshot = `SELECT data FROM room_snapshots WHERE name=$1`

	selectSnapshotsWithVBrowser = `
		SELECT name, data FROM room_snapshots
		WHERE data->'vBrowser' IS NOT NULL`

	deleteSnapshotsBefore = `DELETE FROM room_snapshots WHERE updated_at < $1`
)
