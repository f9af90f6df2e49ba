package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SnapshotRepository struct {
	db *pgxpool.Pool
}

func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, name string, snap *domain.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	if _, err := r.db.Exec(ctx, upsertSnapshot, name, data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// Load возвращает domain.ErrRoomNotFound, если снапшота нет.
func (r *SnapshotRepository) Load(ctx context.Context, name string) (*domain.Snapshot, error) {
	var data []byte
	err := r.db.QueryRow(ctx, selectSnapshot, name).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return domain.UnmarshalSnapshot(data)
}

// WithResource возвращает снапшоты комнат, у которых был выдан виртуальный браузер.
// После рестарта эти комнаты поднимаются сразу, чтобы ВМ не потерялись.
// Битые снапшоты пропускаются.
func (r *SnapshotRepository) WithResource(ctx context.Context) (map[string]*domain.Snapshot, error) {
	rows, err := r.db.Query(ctx, selectSnapshotsWithVBrowser)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.Snapshot)
	for rows.Next() {
		var (
			name string
			data []byte
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		snap, err := domain.UnmarshalSnapshot(data)
		if err != nil {
			continue
		}
		out[name] = snap
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteSnapshotsBefore, before)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
