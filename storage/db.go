package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/ferreirogomes/tiquin-streams/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB representa a conexão com o banco de dados PostgreSQL.
type DB struct {
	*sqlx.DB
}

// NewDB conecta-se ao PostgreSQL e executa as migrações.
func NewDB(dataSourceName string) (*DB, error) {
	db, err := Open(dataSourceName)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(migrate.Up); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open conecta-se ao PostgreSQL sem aplicar migrações.
func Open(dataSourceName string) (*DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao banco de dados: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao pingar o banco de dados: %w", err)
	}
	log.Info().Msg("conexão com PostgreSQL estabelecida")
	return &DB{db}, nil
}

// Migrate aplica (ou reverte) as migrações embutidas no binário.
func (d *DB) Migrate(dir migrate.MigrationDirection) (int, error) {
	return runMigrations(d.DB.DB, dir)
}

func runMigrations(db *sql.DB, dir migrate.MigrationDirection) (int, error) {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db, "postgres", migrations, dir)
	if err != nil {
		return 0, fmt.Errorf("erro ao aplicar migrações: %w", err)
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("migrações aplicadas")
	} else {
		log.Info().Msg("nenhuma migração nova para aplicar")
	}
	return n, nil
}

const upsertStream = `
INSERT INTO streams (id, sender, recipient, total_amount, flow_rate, start_time, stop_time,
    amount_withdrawn, amount_refunded, status, freeze_reason, created_at, updated_at)
VALUES (:id, :sender, :recipient, :total_amount, :flow_rate, :start_time, :stop_time,
    :amount_withdrawn, :amount_refunded, :status, :freeze_reason, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
    amount_withdrawn = EXCLUDED.amount_withdrawn,
    amount_refunded  = EXCLUDED.amount_refunded,
    status           = EXCLUDED.status,
    freeze_reason    = EXCLUDED.freeze_reason,
    updated_at       = EXCLUDED.updated_at`

const insertTransfer = `
INSERT INTO transfers (id, stream_id, kind, beneficiary, amount, status, signature, attempts,
    last_error, created_at, updated_at)
VALUES (:id, :stream_id, :kind, :beneficiary, :amount, :status, :signature, :attempts,
    :last_error, :created_at, :updated_at)`

// SaveStream grava o stream e os transfers gerados pela mesma mutação numa única transação.
func (d *DB) SaveStream(ctx context.Context, stream models.Stream, transfers []models.Transfer) error {
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, upsertStream, stream); err != nil {
			return fmt.Errorf("falha ao gravar stream %d: %w", stream.ID, err)
		}
		for _, t := range transfers {
			if _, err := tx.NamedExecContext(ctx, insertTransfer, t); err != nil {
				return fmt.Errorf("falha ao gravar transfer %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListStreams retorna todos os streams, usados para hidratar o ledger.
func (d *DB) ListStreams(ctx context.Context) ([]models.Stream, error) {
	var streams []models.Stream
	if err := d.SelectContext(ctx, &streams, `SELECT * FROM streams ORDER BY id`); err != nil {
		return nil, fmt.Errorf("falha ao listar streams: %w", err)
	}
	return streams, nil
}

const upsertAsset = `
INSERT INTO asset_index (asset_id, asset_type, metadata_uri, owner, yield_stream_id,
    rental_stream_id, created_at, updated_at)
VALUES (:asset_id, :asset_type, :metadata_uri, :owner, :yield_stream_id,
    :rental_stream_id, :created_at, :updated_at)
ON CONFLICT (asset_id) DO UPDATE SET
    asset_type       = EXCLUDED.asset_type,
    metadata_uri     = EXCLUDED.metadata_uri,
    owner            = EXCLUDED.owner,
    yield_stream_id  = EXCLUDED.yield_stream_id,
    rental_stream_id = EXCLUDED.rental_stream_id,
    updated_at       = EXCLUDED.updated_at`

// SaveAsset grava a entrada do índice e acrescenta o histórico de aluguéis.
func (d *DB) SaveAsset(ctx context.Context, entry models.TokenIndexEntry) error {
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, upsertAsset, entry); err != nil {
			return fmt.Errorf("falha ao gravar ativo %s: %w", entry.AssetID, err)
		}
		for _, streamID := range entry.RentalHistory {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO asset_rentals (asset_id, stream_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				entry.AssetID, streamID)
			if err != nil {
				return fmt.Errorf("falha ao gravar histórico de aluguel do ativo %s: %w", entry.AssetID, err)
			}
		}
		return nil
	})
}

// ListAssets retorna o índice completo com o histórico de aluguéis de cada ativo.
func (d *DB) ListAssets(ctx context.Context) ([]models.TokenIndexEntry, error) {
	var entries []models.TokenIndexEntry
	if err := d.SelectContext(ctx, &entries, `SELECT * FROM asset_index ORDER BY asset_id`); err != nil {
		return nil, fmt.Errorf("falha ao listar ativos: %w", err)
	}

	var rentals []struct {
		AssetID  string `db:"asset_id"`
		StreamID uint64 `db:"stream_id"`
	}
	if err := d.SelectContext(ctx, &rentals, `SELECT asset_id, stream_id FROM asset_rentals ORDER BY stream_id`); err != nil {
		return nil, fmt.Errorf("falha ao listar histórico de aluguéis: %w", err)
	}
	history := make(map[string][]uint64)
	for _, r := range rentals {
		history[r.AssetID] = append(history[r.AssetID], r.StreamID)
	}
	for i := range entries {
		entries[i].RentalHistory = history[entries[i].AssetID]
	}
	return entries, nil
}

// TransfersByStatus retorna até `limit` transfers no status pedido, mais antigos primeiro.
func (d *DB) TransfersByStatus(ctx context.Context, status models.TransferStatus, limit int) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := d.SelectContext(ctx, &transfers,
		`SELECT * FROM transfers WHERE status = $1 ORDER BY created_at, id LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar transfers %s: %w", status, err)
	}
	return transfers, nil
}

// TransfersByStream retorna o histórico de pagamentos de um stream.
func (d *DB) TransfersByStream(ctx context.Context, streamID uint64) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := d.SelectContext(ctx, &transfers,
		`SELECT * FROM transfers WHERE stream_id = $1 ORDER BY created_at, id`, streamID)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar transfers do stream %d: %w", streamID, err)
	}
	return transfers, nil
}

// UpdateTransfer atualiza o estado de entrega on-chain de um transfer.
// Quantia e beneficiário são imutáveis.
func (d *DB) UpdateTransfer(ctx context.Context, t models.Transfer) error {
	query := `UPDATE transfers SET status = $1, signature = $2, attempts = $3, last_error = $4, updated_at = $5 WHERE id = $6`
	res, err := d.ExecContext(ctx, query, t.Status, t.Signature, t.Attempts, t.LastError, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("falha ao atualizar transfer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: transfer %s", ErrNotFound, t.ID)
	}
	return nil
}

func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("falha ao abrir transação: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("falha ao confirmar transação: %w", err)
	}
	return nil
}
